package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashureev/tapflow/internal/crisis"
	"github.com/ashureev/tapflow/internal/dialogue"
	"github.com/ashureev/tapflow/internal/directive"
	"github.com/ashureev/tapflow/internal/domain"
	"github.com/ashureev/tapflow/internal/flow"
	"github.com/ashureev/tapflow/internal/tapping"
	"github.com/ashureev/tapflow/internal/textnorm"
)

// ApologyMessage replaces the reply when the dialogue service fails.
const ApologyMessage = "I'm sorry, I'm having trouble responding right now. Please try sending that again in a moment."

// ErrNotTapping is returned by AdvancePoint outside the tapping-point state.
var ErrNotTapping = errors.New("session is not at a tapping point")

const meterName = "github.com/ashureev/tapflow/internal/session"

// StartInput seeds a new session.
type StartInput struct {
	UserName      string `json:"userName"`
	Problem       string `json:"problem,omitempty"`
	Questionnaire bool   `json:"questionnaire,omitempty"`
}

// ContextPatch carries caller-supplied intake values for a turn.
type ContextPatch struct {
	Problem      *string `json:"problem,omitempty"`
	Feeling      *string `json:"feeling,omitempty"`
	BodyLocation *string `json:"bodyLocation,omitempty"`
}

// TurnResult describes the outcome of one user action.
type TurnResult struct {
	Messages    []domain.Message      `json:"messages"`
	Step        domain.Step           `json:"step"`
	Context     domain.SessionContext `json:"context"`
	Crisis      bool                  `json:"crisis"`
	RateLimited bool                  `json:"rateLimited"`
	Choice      *ChoicePayload        `json:"choice,omitempty"`
	Corrections []textnorm.Change     `json:"corrections,omitempty"`
}

// Orchestrator drives a single session. Its methods are safe for concurrent use but
// each turn runs to completion before the next begins.
type Orchestrator struct {
	mu sync.Mutex

	id        string
	userID    string
	userName  string
	step      domain.Step
	sc        domain.SessionContext
	log       []domain.Message
	createdAt time.Time
	updatedAt time.Time

	deps       Deps
	logger     *slog.Logger
	turns      metric.Int64Counter
	unexpected metric.Int64Counter
	pending    []domain.Message
}

// New creates an orchestrator for a fresh session. Call Start before any other turn.
func New(id, userID string, deps Deps) *Orchestrator {
	deps = deps.withDefaults()
	now := deps.Clock()
	o := &Orchestrator{
		id:        id,
		userID:    userID,
		step:      domain.At(domain.StateInitial),
		createdAt: now,
		updatedAt: now,
		deps:      deps,
	}
	o.init()
	return o
}

// Resume rebuilds an orchestrator from a persisted session and its transcript.
func Resume(s domain.Session, log []domain.Message, deps Deps) *Orchestrator {
	deps = deps.withDefaults()
	o := &Orchestrator{
		id:        s.ID,
		userID:    s.UserID,
		userName:  s.UserName,
		step:      s.Step,
		sc:        s.Context.Clone(),
		log:       slices.Clone(log),
		createdAt: s.CreatedAt,
		updatedAt: s.UpdatedAt,
		deps:      deps,
	}
	o.init()
	return o
}

func (o *Orchestrator) init() {
	o.logger = o.deps.Logger.With("session_id", o.id, "user_id", o.userID)
	meter := otel.Meter(meterName)
	var err error
	if o.turns, err = meter.Int64Counter("session.turns", metric.WithDescription("Session turns by operation")); err != nil {
		o.logger.Warn("failed to create turn counter", "error", err)
	}
	if o.unexpected, err = meter.Int64Counter("session.unexpected_transitions",
		metric.WithDescription("Applied transitions outside the expected table")); err != nil {
		o.logger.Warn("failed to create transition counter", "error", err)
	}
}

// ID returns the session id.
func (o *Orchestrator) ID() string { return o.id }

// UserID returns the owning user.
func (o *Orchestrator) UserID() string { return o.userID }

// Step returns the current compound step.
func (o *Orchestrator) Step() domain.Step {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.step
}

// Context returns a copy of the session context.
func (o *Orchestrator) Context() domain.SessionContext {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sc.Clone()
}

// Messages returns a copy of the message log.
func (o *Orchestrator) Messages() []domain.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.log)
}

// UpdatedAt returns the time of the last completed turn.
func (o *Orchestrator) UpdatedAt() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.updatedAt
}

// Snapshot returns the resumable form of the session.
func (o *Orchestrator) Snapshot() domain.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot()
}

func (o *Orchestrator) snapshot() domain.Session {
	return domain.Session{
		ID:        o.id,
		UserID:    o.userID,
		UserName:  o.userName,
		Step:      o.step,
		Context:   o.sc.Clone(),
		CreatedAt: o.createdAt,
		UpdatedAt: o.updatedAt,
	}
}

// Start opens the session with a welcome message. A problem supplied up front skips
// straight to gathering the feeling.
func (o *Orchestrator) Start(ctx context.Context, in StartInput) (TurnResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	res := o.begin(ctx, "start")

	o.userName = strings.TrimSpace(in.UserName)
	name := o.displayName()
	problem := sanitize(in.Problem, o.deps.MaxMessageChars)

	switch {
	case in.Questionnaire:
		o.step = domain.At(domain.StateQuestionnaire)
		o.appendBot(fmt.Sprintf("Hi %s. Before we begin, let's check in on how you've been feeling lately.", name))
	case problem != "":
		o.sc.SetProblem(problem)
		o.step = domain.At(domain.StateGatheringFeeling)
		o.appendBot(fmt.Sprintf("Hi %s, I'm glad you're here. Let's work on %s together. "+
			"When you think about it, what emotion comes up most strongly?", name, problem))
	default:
		o.step = domain.At(domain.StateInitial)
		o.appendBot(fmt.Sprintf("Hi %s, I'm here to guide you through EFT tapping. "+
			"What would you like to work on today?", name))
	}
	return o.finish(ctx, res), nil
}

// SubmitMessage handles free text from the user.
func (o *Orchestrator) SubmitMessage(ctx context.Context, text string, patch *ContextPatch) (TurnResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.step.State == domain.StateComplete {
		return TurnResult{}, domain.ErrSessionClosed
	}
	text = sanitize(text, o.deps.MaxMessageChars)
	if text == "" {
		return TurnResult{}, domain.ErrEmptyMessage
	}

	res := o.begin(ctx, "message")
	norm := o.deps.Normalizer.Correct(text)
	res.Corrections = norm.Changes
	o.appendUser(norm.Corrected)
	saved := o.sc.Clone()
	o.applyPatch(patch)

	if o.deps.Detector.Detect(norm.Corrected) {
		o.logger.Warn("crisis language detected", "state", o.step.String())
		o.appendBot(crisis.SupportMessage)
		res.Crisis = true
		return o.finish(ctx, res), nil
	}

	o.captureIntake(norm.Corrected)
	if !o.exchange(ctx, norm.Corrected, &res) {
		o.sc = saved
	}
	return o.finish(ctx, res), nil
}

// SubmitIntensity records a 0-10 rating. After a round it is resolved locally;
// elsewhere it is forwarded to the dialogue service as a message.
func (o *Orchestrator) SubmitIntensity(ctx context.Context, value int) (TurnResult, error) {
	if value < 0 || value > 10 {
		return TurnResult{}, domain.ErrInvalidIntensity
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.step.State == domain.StateComplete {
		return TurnResult{}, domain.ErrSessionClosed
	}

	res := o.begin(ctx, "intensity")
	text := fmt.Sprintf("My intensity is %d", value)
	o.appendUser(text)

	if o.step.State != domain.StatePostTapping && o.step.State != domain.StateTappingBreathing {
		// Staged: a failed or rate-limited exchange leaves the context as it was.
		saved := o.sc.Clone()
		o.sc.RecordIntensity(value)
		first := o.sc.SetInitialIntensity(value)
		if !o.exchange(ctx, text, &res) {
			o.sc = saved
			return o.finish(ctx, res), nil
		}
		if first {
			o.createEpisode(ctx, value)
		}
		return o.finish(ctx, res), nil
	}

	o.sc.RecordIntensity(value)
	if o.sc.SetInitialIntensity(value) {
		o.createEpisode(ctx, value)
	}

	switch {
	case value == 0:
		o.completeEpisode(ctx, value)
		o.transition(ctx, domain.At(domain.StateAdvice))
		o.exchange(ctx, text, &res)
	case value <= 2:
		o.offerChoice(&res)
	default:
		o.beginLocalRound(ctx)
	}
	return o.finish(ctx, res), nil
}

// AdvancePoint moves to the next tapping point, or to the breathing check after the last one.
func (o *Orchestrator) AdvancePoint(ctx context.Context) (TurnResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.step.State != domain.StateTappingPoint {
		return TurnResult{}, ErrNotTapping
	}

	res := o.begin(ctx, "next_point")
	if o.step.IsLastPoint() {
		o.transition(ctx, domain.At(domain.StateTappingBreathing))
		o.appendBot("Well done. Take a slow, deep breath in... and let it go. " +
			"When you're ready, rate the intensity again from 0 to 10.")
		return o.finish(ctx, res), nil
	}

	o.step = domain.TappingAt(o.step.Point + 1)
	o.appendBot(o.pointPrompt(o.step.Point))
	return o.finish(ctx, res), nil
}

// Choose applies the user's decision at a post-tapping checkpoint.
func (o *Orchestrator) Choose(ctx context.Context, choice Choice) (TurnResult, error) {
	if _, ok := choiceLabels[choice]; !ok {
		return TurnResult{}, domain.ErrInvalidChoice
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.step.State == domain.StateComplete {
		return TurnResult{}, domain.ErrSessionClosed
	}
	if !acceptsChoice(o.step.State) {
		return TurnResult{}, domain.ErrInvalidChoice
	}

	res := o.begin(ctx, "choice")
	o.appendUser(choice.Label())

	switch choice {
	case ChoiceContinue:
		if o.sc.RoundsWithoutReduction >= AlternativeAfterRounds {
			o.offerChoice(&res)
			break
		}
		o.beginLocalRound(ctx)
	case ChoiceTalk:
		o.transition(ctx, domain.At(domain.StateConversationDeepening))
		o.appendBot("Of course. Let's talk it through. What feels most present for you right now?")
	case ChoiceEnd:
		final := 0
		if o.sc.CurrentIntensity != nil {
			final = *o.sc.CurrentIntensity
		}
		o.completeEpisode(ctx, final)
		o.transition(ctx, domain.At(domain.StateAdvice))
		o.exchange(ctx, "I'd like to finish for today.", &res)
	case ChoiceBreathing:
		o.appendBot("Let's breathe together. Breathe in slowly for four counts, hold for four, " +
			"and breathe out for six. Repeat that a few times, at your own pace.")
	case ChoiceHydration:
		o.appendBot("A glass of water can really help your body settle. " +
			"Take a short break, have a drink, and come back whenever you're ready.")
	case ChoiceHuman:
		o.appendBot("It can help a lot to talk with someone you trust, or with a licensed therapist " +
			"who can support you in person. You don't have to work through this alone.")
	}
	return o.finish(ctx, res), nil
}

// acceptsChoice reports whether s is a checkpoint where choices are offered.
func acceptsChoice(s domain.State) bool {
	switch s {
	case domain.StatePostTapping, domain.StateTappingBreathing, domain.StateConversationDeepening:
		return true
	}
	return false
}

// NewProblem starts a new episode for a different problem. Round, intensities and
// statements are cleared; the session's intensity history is kept.
func (o *Orchestrator) NewProblem(ctx context.Context, problem string) (TurnResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	res := o.begin(ctx, "new_problem")
	problem = sanitize(problem, o.deps.MaxMessageChars)
	o.sc.ResetEpisode()
	if problem == "" {
		o.transition(ctx, domain.At(domain.StateConversation))
		o.appendBot("Of course. What would you like to work on next?")
		return o.finish(ctx, res), nil
	}
	o.appendUser(problem)
	o.sc.SetProblem(problem)
	o.transition(ctx, domain.At(domain.StateGatheringFeeling))
	o.appendBot(fmt.Sprintf("Let's work on %s. When you think about it, what emotion comes up?", problem))
	return o.finish(ctx, res), nil
}

// exchange makes the turn's single dialogue call and applies its reply. It
// reports false when the call failed or was rate limited; nothing was applied then.
func (o *Orchestrator) exchange(ctx context.Context, message string, res *TurnResult) bool {
	if o.deps.Dialogue == nil {
		o.logger.Error("no dialogue service configured")
		o.appendBot(ApologyMessage)
		return false
	}

	req := dialogue.Request{
		Message:             message,
		ChatState:           string(o.step.State),
		UserName:            o.displayName(),
		SessionContext:      o.sc.Clone(),
		ConversationHistory: dialogue.History(domain.RecentMessages(o.log, o.deps.HistoryWindow)),
		CurrentTappingPoint: o.step.Point,
		IntensityHistory:    slices.Clone(o.sc.IntensityHistory),
	}
	resp, err := o.deps.Dialogue.Respond(ctx, req)
	if err != nil {
		o.logger.Error("dialogue call failed", "state", o.step.String(), "error", err)
		o.appendBot(ApologyMessage)
		return false
	}
	if resp.RateLimited {
		text := resp.Response
		if text == "" {
			text = dialogue.RateLimitMessage
		}
		o.appendBot(text)
		res.RateLimited = true
		return false
	}
	if resp.CrisisDetected {
		o.logger.Warn("dialogue service flagged crisis", "state", o.step.String())
		o.appendBot(resp.Response)
		res.Crisis = true
		return true
	}

	visible, parsed := directive.Split(resp.Response)
	if visible != "" {
		o.appendBot(visible)
	}
	if d, ok := parsed.Directive(); ok {
		o.applyDirective(ctx, d, visible)
		return true
	}
	o.applyInference(ctx, visible)
	return true
}

// applyDirective trusts the model's requested state, logging deviations from the
// expected table without blocking them.
func (o *Orchestrator) applyDirective(ctx context.Context, d directive.Directive, visible string) {
	point, hasPoint := d.Point()
	next, ok := d.State()
	if !ok {
		if d.NextState != nil {
			o.logger.Warn("directive names unknown state", "next_state", *d.NextState)
		}
		if hasPoint && o.step.State == domain.StateTappingPoint {
			o.step = domain.TappingAt(point)
		}
		return
	}

	if next != domain.StateTappingPoint {
		o.transition(ctx, domain.At(next))
		return
	}

	entering := o.step.State != domain.StateTappingPoint
	if !hasPoint {
		point = 0
		if !entering {
			point = o.step.Point
		}
	}
	switch {
	case entering && (point == 0 || o.sc.Round == 0):
		stmts, ok := d.Statements()
		if !ok {
			stmts, _ = tapping.ExtractSetupStatements(visible)
		}
		order, _ := d.Order()
		o.startRound(stmts, order)
	case point == 0:
		o.installStatements(d, visible)
	}
	o.transition(ctx, domain.TappingAt(point))
}

// installStatements replaces the current round's statements without counting a new round.
func (o *Orchestrator) installStatements(d directive.Directive, visible string) {
	stmts, ok := d.Statements()
	if !ok {
		stmts, ok = tapping.ExtractSetupStatements(visible)
	}
	if ok {
		o.sc.SetupStatements = stmts
	}
	if order, ok := d.Order(); ok {
		o.sc.StatementOrder = order
	}
}

// applyInference is the degraded path used only when no directive was parsed.
func (o *Orchestrator) applyInference(ctx context.Context, visible string) {
	stmts, found := tapping.ExtractSetupStatements(visible)
	next, ok := flow.Infer(o.step, flow.InferContext{CurrentIntensity: o.sc.CurrentIntensity}, visible)
	if !ok {
		if found && o.step.State != domain.StateTappingPoint {
			o.sc.SetupStatements = stmts
		}
		return
	}
	o.logger.Debug("inferred transition", "from", o.step.String(), "to", next.String())

	if next.State == domain.StateTappingPoint && o.step.State != domain.StateTappingPoint {
		if !found {
			stmts = nil
		}
		o.startRound(stmts, nil)
	}
	o.transition(ctx, next)
}

// startRound counts a new round and installs its statements, generating whatever
// was not supplied.
func (o *Orchestrator) startRound(stmts []string, order []int) {
	subsequent := o.sc.Round > 0
	gen := tapping.Generate(o.sc.Problem, o.sc.Feeling, o.sc.BodyLocation, subsequent, o.sc.Round+1)
	if len(stmts) != 3 {
		stmts = gen.SetupStatements
	}
	if len(order) != domain.TappingPoints {
		order = gen.StatementOrder
	}
	o.sc.StartRound(stmts, order, gen.ReminderPhrases)
	o.logger.Info("tapping round started", "round", o.sc.Round)
}

// beginLocalRound starts another round without consulting the dialogue service.
func (o *Orchestrator) beginLocalRound(ctx context.Context) {
	o.startRound(nil, nil)
	o.updateEpisode(ctx, domain.EpisodeUpdate{RoundsCompleted: ptr(o.sc.Round - 1)})
	o.transition(ctx, domain.TappingAt(0))

	var b strings.Builder
	b.WriteString("Let's do another round together.")
	if o.sc.InitialIntensity != nil && o.sc.CurrentIntensity != nil {
		fmt.Fprintf(&b, " You started at %d and you're at %d now.", *o.sc.InitialIntensity, *o.sc.CurrentIntensity)
	}
	b.WriteString(" ")
	b.WriteString(o.pointPrompt(0))
	o.appendBot(b.String())
}

func (o *Orchestrator) offerChoice(res *TurnResult) {
	initial := 0
	if o.sc.InitialIntensity != nil {
		initial = *o.sc.InitialIntensity
	}
	current := 0
	if o.sc.CurrentIntensity != nil {
		current = *o.sc.CurrentIntensity
	}
	p := newChoicePayload(current, initial, o.sc.Round, o.sc.RoundsWithoutReduction)
	o.appendMessage(domain.MessageSystem, encodePayload(p))
	res.Choice = &p
}

func (o *Orchestrator) pointPrompt(point int) string {
	statement := o.sc.StatementFor(point)
	if statement == "" && point < len(o.sc.ReminderPhrases) {
		statement = o.sc.ReminderPhrases[point]
	}
	name := strings.ToLower(tapping.PointName(point))
	if statement == "" {
		return fmt.Sprintf("Tap on the %s.", name)
	}
	return fmt.Sprintf("Tap on the %s and say: %s", name, statement)
}

// transition applies next and records it when it falls outside the expected table.
func (o *Orchestrator) transition(ctx context.Context, next domain.Step) {
	if !flow.Expected(o.step.State, next.State) {
		o.logger.Warn("unexpected state transition", "from", o.step.String(), "to", next.String())
		if o.unexpected != nil {
			o.unexpected.Add(ctx, 1, metric.WithAttributes(
				attribute.String("from", string(o.step.State)),
				attribute.String("to", string(next.State)),
			))
		}
	}
	o.step = next
}

func (o *Orchestrator) applyPatch(p *ContextPatch) {
	if p == nil {
		return
	}
	if p.Problem != nil {
		o.sc.SetProblem(sanitize(*p.Problem, o.deps.MaxMessageChars))
	}
	if p.Feeling != nil {
		o.sc.Feeling = sanitize(*p.Feeling, o.deps.MaxMessageChars)
	}
	if p.BodyLocation != nil {
		o.sc.BodyLocation = sanitize(*p.BodyLocation, o.deps.MaxMessageChars)
	}
}

// captureIntake files the user's answer under the datum the current state asks for,
// unless the caller already supplied it.
func (o *Orchestrator) captureIntake(text string) {
	switch o.step.State {
	case domain.StateInitial, domain.StateConversation:
		o.sc.SetProblem(text)
	case domain.StateGatheringFeeling:
		if o.sc.Feeling == "" {
			o.sc.Feeling = text
		}
	case domain.StateGatheringLocation:
		if o.sc.BodyLocation == "" {
			o.sc.BodyLocation = text
		}
	}
}

func (o *Orchestrator) createEpisode(ctx context.Context, initial int) {
	id, err := o.deps.Store.CreateEpisode(ctx, domain.Episode{
		UserID:           o.userID,
		SessionID:        o.id,
		Problem:          o.sc.Problem,
		Feeling:          o.sc.Feeling,
		BodyLocation:     o.sc.BodyLocation,
		InitialIntensity: initial,
		CreatedAt:        o.deps.Clock(),
	})
	if err != nil {
		o.logger.Warn("failed to create episode", "error", err)
		return
	}
	o.sc.TappingSessionID = id
}

func (o *Orchestrator) completeEpisode(ctx context.Context, final int) {
	now := o.deps.Clock()
	o.updateEpisode(ctx, domain.EpisodeUpdate{
		FinalIntensity:  ptr(final),
		RoundsCompleted: ptr(o.sc.Round),
		CompletedAt:     &now,
	})
	o.logger.Info("episode complete", "rounds", o.sc.Round, "final_intensity", final, "improvement", o.sc.Improvement())
}

func (o *Orchestrator) updateEpisode(ctx context.Context, u domain.EpisodeUpdate) {
	if o.sc.TappingSessionID == "" {
		return
	}
	if err := o.deps.Store.UpdateEpisode(ctx, o.sc.TappingSessionID, u); err != nil {
		o.logger.Warn("failed to update episode", "episode_id", o.sc.TappingSessionID, "error", err)
	}
}

func (o *Orchestrator) begin(ctx context.Context, op string) TurnResult {
	o.pending = o.pending[:0]
	if o.turns != nil {
		o.turns.Add(ctx, 1, metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("state", string(o.step.State)),
		))
	}
	return TurnResult{}
}

// finish persists the turn's messages and snapshot and fills in the result.
func (o *Orchestrator) finish(ctx context.Context, res TurnResult) TurnResult {
	o.updatedAt = o.deps.Clock()
	res.Messages = slices.Clone(o.pending)
	res.Step = o.step
	res.Context = o.sc.Clone()

	if len(o.pending) > 0 {
		if err := o.deps.Store.AppendTranscript(ctx, o.id, res.Messages); err != nil {
			o.logger.Warn("failed to persist transcript", "error", err)
		}
	}
	if err := o.deps.Store.SaveSession(ctx, o.snapshot()); err != nil {
		o.logger.Warn("failed to save session", "error", err)
	}
	o.pending = o.pending[:0]
	return res
}

func (o *Orchestrator) appendUser(text string) { o.appendMessage(domain.MessageUser, text) }
func (o *Orchestrator) appendBot(text string)  { o.appendMessage(domain.MessageBot, text) }

func (o *Orchestrator) appendMessage(t domain.MessageType, content string) {
	m := domain.Message{
		ID:        o.deps.NewID(),
		SessionID: o.id,
		Type:      t,
		Content:   content,
		Timestamp: o.deps.Clock(),
	}
	o.log = append(o.log, m)
	o.pending = append(o.pending, m)
}

func (o *Orchestrator) displayName() string {
	if o.userName == "" {
		return "friend"
	}
	return o.userName
}

// sanitize drops control characters other than newline and tab, trims, and caps the
// result at limit runes.
func sanitize(s string, limit int) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if limit > 0 {
		if r := []rune(s); len(r) > limit {
			s = strings.TrimSpace(string(r[:limit]))
		}
	}
	return s
}

func newID() string { return uuid.NewString() }

func ptr[T any](v T) *T { return &v }

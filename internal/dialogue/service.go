package dialogue

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashureev/tapflow/internal/crisis"
	"github.com/ashureev/tapflow/internal/directive"
	"github.com/ashureev/tapflow/internal/textnorm"
)

const meterName = "github.com/ashureev/tapflow/internal/dialogue"

// Outcomes recorded on the dialogue.requests counter.
const (
	outcomeOK          = "ok"
	outcomeRateLimited = "rate_limited"
	outcomeCrisis      = "crisis"
	outcomeError       = "error"
)

// Service answers dialogue requests.
type Service struct {
	model    Model
	limiter  Limiter
	detector *crisis.Detector
	logger   *slog.Logger
	requests metric.Int64Counter
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithDetector replaces the default crisis detector.
func WithDetector(d *crisis.Detector) ServiceOption {
	return func(s *Service) { s.detector = d }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates a Service. A nil limiter disables rate limiting.
func NewService(model Model, limiter Limiter, opts ...ServiceOption) *Service {
	s := &Service{
		model:    model,
		limiter:  limiter,
		detector: crisis.Default(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	counter, err := otel.Meter(meterName).Int64Counter("dialogue.requests",
		metric.WithDescription("Dialogue requests by outcome"))
	if err != nil {
		s.logger.Warn("failed to create dialogue request counter", "error", err)
	}
	s.requests = counter
	return s
}

// Respond produces the reply for req on behalf of the client identified by clientKey.
// Rate-limited and crisis replies never reach the model.
func (s *Service) Respond(ctx context.Context, clientKey string, req Request) (Response, error) {
	if s.limiter != nil && !s.limiter.Allow(clientKey) {
		s.logger.Warn("dialogue rate limit exceeded", "client", clientKey)
		s.record(ctx, outcomeRateLimited, req.ChatState)
		return Response{Response: RateLimitMessage, RateLimited: true}, nil
	}

	if s.detector.Detect(textnorm.Correct(req.Message).Corrected) {
		s.logger.Warn("crisis language detected in request", "state", req.ChatState)
		s.record(ctx, outcomeCrisis, req.ChatState)
		return Response{Response: crisis.SupportMessage, CrisisDetected: true}, nil
	}

	text, err := s.model.Generate(ctx, BuildPrompt(req))
	if err != nil {
		s.record(ctx, outcomeError, req.ChatState)
		return Response{}, fmt.Errorf("generate reply: %w", err)
	}

	if s.detector.Detect(directive.Strip(text)) {
		s.logger.Warn("crisis language detected in model reply", "state", req.ChatState)
		s.record(ctx, outcomeCrisis, req.ChatState)
		return Response{Response: crisis.SupportMessage, CrisisDetected: true}, nil
	}

	s.record(ctx, outcomeOK, req.ChatState)
	return Response{Response: text}, nil
}

func (s *Service) record(ctx context.Context, outcome, state string) {
	if s.requests == nil {
		return
	}
	s.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("state", state),
	))
}

// Local calls a Service in-process.
type Local struct {
	svc *Service
}

// NewLocal wraps svc.
func NewLocal(svc *Service) *Local {
	return &Local{svc: svc}
}

// Respond implements the orchestrator's dialogue dependency. The rate-limit key is
// taken from ctx, falling back to "local".
func (l *Local) Respond(ctx context.Context, req Request) (Response, error) {
	key := ClientKeyFromContext(ctx)
	if key == "" {
		key = "local"
	}
	return l.svc.Respond(ctx, key, req)
}

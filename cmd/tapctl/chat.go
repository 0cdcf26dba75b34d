package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ashureev/tapflow/internal/dialogue"
	"github.com/ashureev/tapflow/internal/directive"
	"github.com/ashureev/tapflow/internal/domain"
	"github.com/ashureev/tapflow/internal/session"
)

const chatHelp = `Commands:
  /rate N        rate the intensity from 0 to 10
  /next          move to the next tapping point
  /choose NAME   pick an offered option (continue, talk, end, breathing, hydration, human)
  /problem TEXT  start over with a different problem
  /quit          leave the session
Anything else is sent as a message.`

type chatOptions struct {
	url     string
	timeout time.Duration
	name    string
	problem string
}

func newChatCmd() *cobra.Command {
	var opts chatOptions
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Hold a tapping session in the terminal",
		Long: "chat runs a session in-process. Replies come from a remote dialogue service when --url is set, " +
			"otherwise from the built-in scripted model.\n\n" + chatHelp,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var dlg session.Dialogue
			if opts.url != "" {
				dlg = dialogue.NewClient(opts.url, opts.timeout)
			} else {
				logger := slog.New(slog.NewTextHandler(io.Discard, nil))
				dlg = dialogue.NewLocal(dialogue.NewService(dialogue.Scripted{}, nil, dialogue.WithLogger(logger)))
			}
			return runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), dlg, opts)
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", "", "dialogue service base URL")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 45*time.Second, "dialogue request timeout")
	cmd.Flags().StringVar(&opts.name, "name", "", "name the guide should use")
	cmd.Flags().StringVar(&opts.problem, "problem", "", "problem to start with")
	return cmd
}

func runChat(ctx context.Context, in io.Reader, out io.Writer, dlg session.Dialogue, opts chatOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	orch := session.New(uuid.NewString(), "cli", session.Deps{
		Dialogue: dlg,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	res, err := orch.Start(ctx, session.StartInput{UserName: opts.name, Problem: opts.problem})
	if err != nil {
		return err
	}
	printTurn(out, res)

	scanner := bufio.NewScanner(in)
	for {
		if _, err := fmt.Fprint(out, "> "); err != nil {
			return err
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return nil
		}

		res, err := chatTurn(ctx, orch, line)
		switch {
		case errors.Is(err, errUsage):
			_, err = fmt.Fprintln(out, chatHelp)
		case errors.Is(err, domain.ErrSessionClosed):
			_, err = fmt.Fprintln(out, "The session is complete.")
			if err == nil {
				return nil
			}
		case err != nil:
			_, err = fmt.Fprintf(out, "! %v\n", err)
		default:
			printTurn(out, res)
		}
		if err != nil {
			return err
		}
		if orch.Step().State == domain.StateComplete {
			return nil
		}
	}
}

var errUsage = errors.New("usage")

func chatTurn(ctx context.Context, orch *session.Orchestrator, line string) (session.TurnResult, error) {
	if !strings.HasPrefix(line, "/") {
		return orch.SubmitMessage(ctx, line, nil)
	}
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/rate":
		v, err := strconv.Atoi(arg)
		if err != nil {
			return session.TurnResult{}, domain.ErrInvalidIntensity
		}
		return orch.SubmitIntensity(ctx, v)
	case "/next":
		return orch.AdvancePoint(ctx)
	case "/choose":
		c, ok := session.ParseChoice(arg)
		if !ok {
			return session.TurnResult{}, domain.ErrInvalidChoice
		}
		return orch.Choose(ctx, c)
	case "/problem":
		return orch.NewProblem(ctx, arg)
	}
	return session.TurnResult{}, errUsage
}

func printTurn(out io.Writer, res session.TurnResult) {
	for _, m := range res.Messages {
		switch m.Type {
		case domain.MessageBot:
			fmt.Fprintf(out, "guide: %s\n", directive.Strip(m.Content))
		case domain.MessageSystem:
			if p, err := session.DecodeChoicePayload(m.Content); err == nil {
				opts := make([]string, len(p.Options))
				for i, c := range p.Options {
					opts[i] = string(c)
				}
				fmt.Fprintf(out, "  options: %s\n", strings.Join(opts, ", "))
			}
		}
	}
	fmt.Fprintf(out, "[%s]\n", res.Step)
}

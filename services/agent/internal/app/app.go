// Package app wires the agent worker: it consumes message events, runs
// the model/tool loop as a durable run, and writes the answer back
// through the api service's internal surface.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pouyahbb/polaris/pkg/ai"
	"github.com/pouyahbb/polaris/pkg/domain"
	"github.com/pouyahbb/polaris/pkg/events"
	"github.com/pouyahbb/polaris/services/agent/internal/agent"
	"github.com/pouyahbb/polaris/services/agent/internal/polarisclient"
	"github.com/pouyahbb/polaris/services/agent/internal/runner"
	"github.com/pouyahbb/polaris/services/agent/internal/tools"
)

// maxAttempts bounds redeliveries of one message before the apology is
// written and the event is dropped.
const maxAttempts = 3

// historyFetchLimit leaves room for the entries the assembler discards
// (the in-flight placeholder and empty messages).
const historyFetchLimit = 12

type Worker struct {
	api    *polarisclient.Client
	runner *runner.Runner
	loop   *agent.Loop
	titles ai.TextGenerator
}

type Config struct {
	API    *polarisclient.Client
	Runner *runner.Runner
	Model  ai.ChatModel
	Titles ai.TextGenerator
	// Scraper overrides the tool layer's page fetcher, for tests.
	Scraper tools.URLFetcher
}

func New(cfg Config) (*Worker, error) {
	if cfg.API == nil {
		return nil, errors.New("api client required")
	}
	if cfg.Runner == nil {
		return nil, errors.New("runner required")
	}
	if cfg.Model == nil {
		return nil, errors.New("chat model required")
	}
	scraper := cfg.Scraper
	if scraper == nil {
		return nil, errors.New("scraper required")
	}
	return &Worker{
		api:    cfg.API,
		runner: cfg.Runner,
		loop:   agent.NewLoop(cfg.Model, tools.NewRegistry(scraper)),
		titles: cfg.Titles,
	}, nil
}

// HandleMessageSent processes one queued message. A returned error asks
// the broker to redeliver; nil acknowledges the event.
func (w *Worker) HandleMessageSent(ctx context.Context, evt events.MessageSent) error {
	log := slog.With("messageId", evt.MessageID, "conversationId", evt.ConversationID)

	run, err := w.runner.Begin(ctx, evt.MessageID)
	if err != nil {
		return err
	}
	if run.Cancelled(ctx) {
		log.Info("run cancelled before start")
		return run.Finish(ctx)
	}
	if run.Attempts > maxAttempts {
		log.Warn("giving up after repeated failures", "attempts", run.Attempts)
		w.writeApology(ctx, evt.MessageID)
		return run.Finish(ctx)
	}

	runCtx, cancel := context.WithDeadline(ctx, run.Deadline)
	defer cancel()

	err = w.process(runCtx, run, evt)
	switch {
	case err == nil:
		return run.Finish(ctx)
	case errors.Is(err, runner.ErrCancelled):
		// the status patch already flipped the message; nothing to write
		log.Info("run cancelled")
		return run.Finish(ctx)
	case errors.Is(err, runner.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		log.Warn("run exceeded its deadline")
		w.writeApology(ctx, evt.MessageID)
		return run.Finish(ctx)
	case runner.IsNonRetriable(err):
		log.Error("run failed permanently", "error", err)
		w.writeApology(ctx, evt.MessageID)
		return run.Finish(ctx)
	default:
		log.Warn("run failed, will retry", "error", err, "attempt", run.Attempts)
		return err
	}
}

func (w *Worker) process(ctx context.Context, run *runner.Run, evt events.MessageSent) error {
	conversation, err := runner.Step(ctx, run, "fetch-conversation", func(ctx context.Context) (domain.Conversation, error) {
		c, err := w.api.Conversation(evt.ConversationID)
		if err != nil {
			var apiErr *polarisclient.APIError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
				return domain.Conversation{}, runner.NonRetriable(err)
			}
			return domain.Conversation{}, err
		}
		return c, nil
	})
	if err != nil {
		return err
	}

	history, err := runner.Step(ctx, run, "fetch-history", func(ctx context.Context) ([]domain.Message, error) {
		return w.api.RecentMessages(evt.ConversationID, historyFetchLimit)
	})
	if err != nil {
		return err
	}

	// best effort: a failed title never fails the run
	if _, err := runner.Step(ctx, run, "generate-title", func(ctx context.Context) (bool, error) {
		if w.titles == nil {
			return false, nil
		}
		if err := agent.GenerateTitle(ctx, w.titles, w.api, conversation, evt.Content); err != nil {
			slog.Warn("title generation failed", "conversationId", conversation.ID, "error", err)
			return false, nil
		}
		return true, nil
	}); err != nil {
		return err
	}

	env := tools.Env{Backend: w.api, ProjectID: evt.ProjectID}
	result, err := w.loop.Run(ctx, run, env, agent.BuildSystemPrompt(history, evt.MessageID), evt.Content)
	if err != nil {
		return err
	}

	applied, err := runner.Step(ctx, run, "persist-result", func(ctx context.Context) (bool, error) {
		return w.api.CompleteMessage(evt.MessageID, result.Text, result.Trace)
	})
	if err != nil {
		return err
	}
	if !applied {
		slog.Info("message no longer processing, result discarded", "messageId", evt.MessageID)
	}
	return nil
}

// HandleCancel flags the named runs so they stop at their next step.
func (w *Worker) HandleCancel(ctx context.Context, evt events.MessageCancel) {
	for _, id := range evt.MessageIDs {
		if strings.TrimSpace(id) == "" {
			continue
		}
		if err := w.runner.SetCancelled(ctx, id); err != nil {
			slog.Error("could not flag run as cancelled", "messageId", id, "error", err)
		}
	}
}

func (w *Worker) writeApology(ctx context.Context, messageID string) {
	applied, err := w.api.CompleteMessage(messageID, agent.Apology(), nil)
	if err != nil {
		slog.Error("could not write apology", "messageId", messageID, "error", err)
		return
	}
	if !applied {
		slog.Info("apology skipped, message no longer processing", "messageId", messageID)
	}
}

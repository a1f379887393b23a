package llm

import (
	"context"
	"time"

	"github.com/tasklane/tasklane/internal/logging"
)

// LoggingClient wraps a Client and logs every request/response exchange.
type LoggingClient struct {
	inner Client
	log   *logging.Logger
}

// NewLoggingClient wraps client with exchange logging.
func NewLoggingClient(client Client, log *logging.Logger) *LoggingClient {
	return &LoggingClient{inner: client, log: log.Sub("llm")}
}

func (l *LoggingClient) Name() string { return l.inner.Name() }

func (l *LoggingClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	l.log.Debug().
		Str("provider", l.inner.Name()).
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Int("tools", len(req.Tools)).
		Msg("completion request")

	resp, err := l.inner.Complete(ctx, req)
	if err != nil {
		l.log.Error().
			Str("provider", l.inner.Name()).
			Dur("elapsed", time.Since(start)).
			Err(err).
			Msg("completion failed")
		return nil, err
	}

	l.log.Debug().
		Str("provider", l.inner.Name()).
		Str("finishReason", resp.FinishReason).
		Int("contentLen", len(resp.Content)).
		Int("toolCalls", len(resp.ToolCalls)).
		Int("inputTokens", resp.Usage.InputTokens).
		Int("outputTokens", resp.Usage.OutputTokens).
		Dur("elapsed", time.Since(start)).
		Msg("completion response")
	return resp, nil
}

func (l *LoggingClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	start := time.Now()
	l.log.Debug().
		Str("provider", l.inner.Name()).
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Int("tools", len(req.Tools)).
		Msg("stream request")

	inner, err := l.inner.Stream(ctx, req)
	if err != nil {
		l.log.Error().Str("provider", l.inner.Name()).Err(err).Msg("stream failed to start")
		return nil, err
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		for ev := range inner {
			switch ev.Type {
			case "error":
				l.log.Error().
					Str("provider", l.inner.Name()).
					Str("error", ev.Error).
					Dur("elapsed", time.Since(start)).
					Msg("stream error")
			case "done":
				if ev.Response != nil {
					l.log.Debug().
						Str("provider", l.inner.Name()).
						Str("finishReason", ev.Response.FinishReason).
						Int("contentLen", len(ev.Response.Content)).
						Int("toolCalls", len(ev.Response.ToolCalls)).
						Dur("elapsed", time.Since(start)).
						Msg("stream done")
				}
			}
			out <- ev
		}
	}()
	return out, nil
}

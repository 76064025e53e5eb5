// Package app connects chat channels to the agent gateway.
//
// It builds a per-channel message handler that runs one gateway turn per
// incoming message, streams progress back where the channel supports it,
// and routes require-approval prompts through the permission bridge.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	openvia "github.com/openvia/openvia"
	"github.com/openvia/openvia/channel/telegram"
)

// App owns the running channels and the gateway they feed.
type App struct {
	gateway  *openvia.Gateway
	bridge   *openvia.Bridge
	channels []openvia.Channel
	logger   *slog.Logger
}

// New creates an App. Channels are started by Run in registration order.
func New(gateway *openvia.Gateway, bridge *openvia.Bridge, channels []openvia.Channel, logger *slog.Logger) *App {
	if logger == nil {
		logger = openvia.NopLogger()
	}
	return &App{gateway: gateway, bridge: bridge, channels: channels, logger: logger}
}

// Run starts every channel and blocks until ctx is cancelled or a channel
// fails, then stops the rest. Channel Start methods block, so each runs in
// its own goroutine.
func (a *App) Run(ctx context.Context) error {
	if len(a.channels) == 0 {
		return fmt.Errorf("app: no channels configured")
	}

	errCh := make(chan error, len(a.channels))
	for _, ch := range a.channels {
		go func(ch openvia.Channel) {
			a.logger.Info("channel starting", "channel", ch.ID())
			err := ch.Start(ctx, a.handlerFor(ch))
			if err != nil && !errors.Is(err, context.Canceled) {
				err = fmt.Errorf("channel %s: %w", ch.ID(), err)
			}
			errCh <- err
		}(ch)
	}

	var cause error
	select {
	case <-ctx.Done():
		cause = ctx.Err()
	case err := <-errCh:
		cause = err
	}

	a.logger.Info("shutting down")
	for i := len(a.channels) - 1; i >= 0; i-- {
		if err := a.channels[i].Stop(); err != nil {
			a.logger.Warn("channel stop failed", "channel", a.channels[i].ID(), "error", err)
		}
	}
	return cause
}

// RunWithSignal wraps Run with OS signal handling for graceful shutdown.
func (a *App) RunWithSignal() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx)
}

// handlerFor builds the message handler for one channel. Telegram gets
// edit-in-place streaming; other channels get a single reply on completion.
func (a *App) handlerFor(ch openvia.Channel) openvia.MessageHandler {
	tg, streaming := ch.(*telegram.Channel)
	return func(ctx context.Context, input []openvia.ContentBlock, userID, chatID string, reply openvia.ReplyFunc) error {
		text, blocks := splitInput(input)

		if cmd := strings.TrimSpace(text); cmd == "/new" || cmd == "/clear" {
			a.gateway.Sessions().Clear(userID, chatID)
			return reply(ctx, "Session cleared.")
		}

		session := a.gateway.Sessions().GetOrCreate(userID, chatID)
		turn := openvia.Turn{
			Text:    text,
			Blocks:  blocks,
			Session: session,
			OnPermission: func(ctx context.Context, prompt string) (bool, error) {
				return a.bridge.Request(ctx, prompt, openvia.RequestContext{
					UserID:    userID,
					ChatID:    chatID,
					ChannelID: ch.ID(),
				})
			},
		}

		if streaming {
			return a.streamTurn(ctx, tg, chatID, turn)
		}
		return a.bufferTurn(ctx, reply, turn)
	}
}

// streamTurn consumes the event stream into a Telegram streamer.
func (a *App) streamTurn(ctx context.Context, tg *telegram.Channel, chatID string, turn openvia.Turn) error {
	s := tg.NewStreamer(chatID)
	for ev := range a.gateway.Run(ctx, turn) {
		switch ev.Type {
		case openvia.AgentTextDelta:
			s.Push(ctx, ev.Content)
		case openvia.AgentToolStart:
			a.logger.Debug("tool start", "tool", ev.Name, "chat", chatID)
		case openvia.AgentDone:
			return s.Finish(ctx, ev.Content)
		case openvia.AgentError:
			s.Fail(ctx, ev.Content)
			return fmt.Errorf("turn failed: %s", ev.Content)
		}
	}
	return nil
}

// bufferTurn accumulates deltas and replies once at the end of the turn.
func (a *App) bufferTurn(ctx context.Context, reply openvia.ReplyFunc, turn openvia.Turn) error {
	for ev := range a.gateway.Run(ctx, turn) {
		switch ev.Type {
		case openvia.AgentDone:
			return reply(ctx, ev.Content)
		case openvia.AgentError:
			_ = reply(ctx, "Error: "+ev.Content)
			return fmt.Errorf("turn failed: %s", ev.Content)
		}
	}
	return nil
}

// splitInput reduces a pure-text message to Turn.Text; mixed content rides
// in Turn.Blocks unchanged. The text is still returned for command parsing.
func splitInput(input []openvia.ContentBlock) (string, []openvia.ContentBlock) {
	if len(input) == 1 && input[0].Kind == "text" {
		return input[0].Text, nil
	}
	var text string
	for _, b := range input {
		if b.Kind == "text" {
			text = b.Text
			break
		}
	}
	return text, input
}

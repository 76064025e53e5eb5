package observer

import (
	"context"
	"fmt"
	"time"

	openvia "github.com/openvia/openvia"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedProvider wraps a Provider with OTEL instrumentation. Each Chat
// stream is one span; usage and durations are recorded when the stream
// reaches its terminal event.
type ObservedProvider struct {
	inner openvia.Provider
	inst  *Instruments
	model string
}

var _ openvia.Provider = (*ObservedProvider)(nil)

// WrapProvider returns an instrumented provider.
func WrapProvider(inner openvia.Provider, model string, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst, model: model}
}

func (o *ObservedProvider) Name() string          { return o.inner.Name() }
func (o *ObservedProvider) MaxContextTokens() int { return o.inner.MaxContextTokens() }

func (o *ObservedProvider) Chat(ctx context.Context, req openvia.ChatRequest) <-chan openvia.LLMEvent {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.chat", trace.WithAttributes(
		attribute.String("llm.model", o.model),
		attribute.String("llm.provider", o.inner.Name()),
		attribute.Int("llm.tool_count", len(req.Tools)),
	))
	start := time.Now()

	out := make(chan openvia.LLMEvent)
	inner := o.inner.Chat(ctx, req)

	go func() {
		defer close(out)
		defer span.End()

		var usage openvia.Usage
		status := "ok"
		toolCalls := 0

		for ev := range inner {
			switch ev.Type {
			case openvia.LLMToolCall:
				toolCalls++
			case openvia.LLMDone:
				usage = ev.Usage
			case openvia.LLMError:
				status = "error"
				span.RecordError(fmt.Errorf("%s", ev.Content))
				span.SetStatus(codes.Error, ev.Content)
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}

		durationMs := float64(time.Since(start).Milliseconds())
		span.SetAttributes(
			attribute.Int("llm.tokens.input", usage.InputTokens),
			attribute.Int("llm.tokens.output", usage.OutputTokens),
			attribute.Int("llm.tool_calls", toolCalls),
		)
		o.record(ctx, status, durationMs, usage)
	}()
	return out
}

func (o *ObservedProvider) record(ctx context.Context, status string, durationMs float64, usage openvia.Usage) {
	base := []attribute.KeyValue{
		attribute.String("llm.model", o.model),
		attribute.String("llm.provider", o.inner.Name()),
	}

	o.inst.TokenUsage.Add(ctx, int64(usage.InputTokens), metric.WithAttributes(
		append(base, attribute.String("direction", "input"))...))
	o.inst.TokenUsage.Add(ctx, int64(usage.OutputTokens), metric.WithAttributes(
		append(base, attribute.String("direction", "output"))...))
	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		append(base, attribute.String("status", status))...))
	o.inst.LLMDuration.Record(ctx, durationMs, metric.WithAttributes(base...))

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("llm stream completed"))
	rec.AddAttributes(
		otellog.String("llm.model", o.model),
		otellog.String("llm.provider", o.inner.Name()),
		otellog.Int("llm.tokens.input", usage.InputTokens),
		otellog.Int("llm.tokens.output", usage.OutputTokens),
		otellog.Float64("llm.duration_ms", durationMs),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)
}

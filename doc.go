// Package openvia is a headless agent gateway: it bridges chat channels to a
// tool-using LLM agent, gating every tool call through a policy engine and,
// when required, a human approval round-trip in the originating chat.
//
// # Quick Start
//
// Wire a gateway from its collaborators:
//
//	provider, _ := resolve.Provider(resolve.Config{
//		Format: "openai", APIKey: key, Model: "gpt-4.1-mini",
//	})
//
//	registry := openvia.NewRegistry(logger)
//	registry.RegisterAll(shell.Definitions())
//	registry.RegisterAll(file.Definitions())
//
//	gateway := openvia.NewGateway(
//		provider,
//		registry,
//		openvia.NewExecutor(registry, logger),
//		openvia.NewEngine(),
//		openvia.NewSessionManager(logger),
//	)
//
//	for ev := range gateway.Run(ctx, openvia.Turn{Text: "list my files", Session: s}) {
//		// text_delta, tool_start, tool_pending, tool_result, done, error
//	}
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [Provider] — LLM backend emitting a unified streaming event sequence
//   - [Channel] — chat surface delivering user messages and replies
//   - [PermissionNotifier] — channel-side delivery of approval prompts
//   - [AuditSink] — durable mirror of policy decisions
//   - [Tracer] — span emission for turns, rounds, and tool calls
//
// # Included Implementations
//
// Providers: provider/openaicompat (OpenAI-compatible chat completions),
// provider/responses (OpenAI Responses API), provider/gemini (Google Gemini);
// provider/resolve picks one from configuration.
// Channels: channel/telegram (long-polling bot), channel/feishu (event webhook).
// Tools: tools/shell, tools/file, tools/skill.
// Audit sinks: store/sqlite (local), store/postgres.
//
// See the cmd/openvia directory for the complete gateway binary.
package openvia

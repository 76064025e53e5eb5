package openvia

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DecisionKind classifies a policy outcome.
type DecisionKind string

const (
	DecisionAllow           DecisionKind = "allow"
	DecisionDeny            DecisionKind = "deny"
	DecisionRequireApproval DecisionKind = "require_approval"
)

// Decision is the outcome of one policy evaluation.
type Decision struct {
	Kind   DecisionKind
	Reason string // deny only
	Prompt string // require_approval only
}

// Allow creates an allow decision.
func Allow() Decision { return Decision{Kind: DecisionAllow} }

// Deny creates a deny decision with a reason.
func Deny(reason string) Decision { return Decision{Kind: DecisionDeny, Reason: reason} }

// RequireApproval creates a decision that asks a human before execution.
func RequireApproval(prompt string) Decision {
	return Decision{Kind: DecisionRequireApproval, Prompt: prompt}
}

// Rule is a user-supplied policy rule. Patterns are "*" (all), "prefix*"
// (starts-with), or an exact tool name. Rules are walked in order and the
// first match wins, so operators can override the built-in heuristics.
type Rule struct {
	ToolPattern string
	Decision    DecisionKind
	Reason      string
}

// matches reports whether the rule pattern covers the tool name.
func (r Rule) matches(tool string) bool {
	switch {
	case r.ToolPattern == "*":
		return true
	case strings.HasSuffix(r.ToolPattern, "*"):
		return strings.HasPrefix(tool, strings.TrimSuffix(r.ToolPattern, "*"))
	default:
		return tool == r.ToolPattern
	}
}

// PolicyContext is the per-session view the engine evaluates against.
type PolicyContext struct {
	UserID       string
	ChatID       string
	AllowedTools []string // nil = no restriction
	DeniedTools  []string
}

// defaultConfirmList holds command substrings that force human approval
// when found in a shell command.
var defaultConfirmList = []string{
	"rm", "mv", "sudo", "su", "dd", "reboot", "shutdown",
	"mkfs", "chmod", "chown", ">", ">>", "|",
}

// readToolHints mark a tool name as read-only by substring (case-insensitive).
var readToolHints = []string{"read", "list", "ls", "search", "grep", "glob", "view"}

// writeToolHints mark a tool name as mutating by substring (case-insensitive).
var writeToolHints = []string{"write", "edit", "delete", "remove", "create"}

// shellMetaChars disqualify a command from the safe read-only fast path.
// Composition operators and redirections can smuggle arbitrary effects
// behind an innocent-looking prefix.
var shellMetaChars = []string{";", "&", "`", "$(", ">", "<<"}

// safeShellPattern matches a fixed set of read-only commands followed only by
// simple flags or quoted format arguments (e.g. `date '+%Y-%m-%d'`).
var safeShellPattern = regexp.MustCompile(
	`^(get-date|date|timedatectl|whoami|hostname|uname|uptime|pwd|id|groups|df|free)` +
		`(\s+(-{1,2}[A-Za-z0-9=,.-]+|'[^']*'|"[^"]*"|\+[%A-Za-z0-9:_./-]+))*\s*$`)

// Engine classifies tool calls into allow / deny / require-approval and
// records every decision in a bounded in-memory audit log. Rules and the
// confirm list are fixed at construction; Evaluate is safe for concurrent use.
type Engine struct {
	rules       []Rule
	confirmList []string
	audit       *auditLog
	sink        AuditSink
	logger      *slog.Logger
}

// EngineOption configures a policy Engine.
type EngineOption func(*Engine)

// WithRules installs user-supplied rules, walked in order before the
// built-in heuristics.
func WithRules(rules []Rule) EngineOption {
	return func(e *Engine) { e.rules = rules }
}

// WithConfirmList replaces the default shell confirm substrings.
func WithConfirmList(list []string) EngineOption {
	return func(e *Engine) { e.confirmList = list }
}

// WithAuditSink mirrors audit entries to a persistent sink in addition to
// the in-memory ring. Sink failures are logged and do not affect decisions.
func WithAuditSink(sink AuditSink) EngineOption {
	return func(e *Engine) { e.sink = sink }
}

// WithPolicyLogger sets the structured logger for decisions and audit.
func WithPolicyLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a policy engine with the default confirm list.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		confirmList: defaultConfirmList,
		audit:       newAuditLog(MaxAudit),
		logger:      NopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate classifies one (tool, args, session) triple. It is total: every
// input produces a decision, and every call appends an audit entry.
func (e *Engine) Evaluate(tool ToolDefinition, args json.RawMessage, pc PolicyContext) Decision {
	d := e.decide(tool, args, pc)
	e.logAudit(AuditEntry{
		Timestamp: NowUnix(),
		UserID:    pc.UserID,
		ChatID:    pc.ChatID,
		Tool:      tool.Name,
		Args:      string(args),
		Decision:  string(d.Kind),
	})
	return d
}

// decide walks the decision ladder; first match wins.
func (e *Engine) decide(tool ToolDefinition, args json.RawMessage, pc PolicyContext) Decision {
	name := tool.Name

	// 1. Session deny list beats everything.
	for _, t := range pc.DeniedTools {
		if t == name {
			return Deny(fmt.Sprintf("tool %q is denied for this user", name))
		}
	}

	// 2. Session allow list, when present, is exhaustive.
	if pc.AllowedTools != nil {
		found := false
		for _, t := range pc.AllowedTools {
			if t == name {
				found = true
				break
			}
		}
		if !found {
			return Deny(fmt.Sprintf("tool %q is not in the allowed list", name))
		}
	}

	// 3. User rules, in order.
	for _, r := range e.rules {
		if !r.matches(name) {
			continue
		}
		switch r.Decision {
		case DecisionAllow:
			return Allow()
		case DecisionDeny:
			reason := r.Reason
			if reason == "" {
				reason = fmt.Sprintf("tool %q denied by policy rule", name)
			}
			return Deny(reason)
		case DecisionRequireApproval:
			return RequireApproval(approvalPrompt(name, args, r.Reason))
		}
	}

	lower := strings.ToLower(name)

	// 4. Read-only tools run without asking.
	for _, hint := range readToolHints {
		if strings.Contains(lower, hint) {
			return Allow()
		}
	}

	// 5. Shell commands get command-level inspection.
	if lower == "bash" || lower == "shell" {
		return e.decideShell(name, args)
	}

	// 6. Mutating tools ask, naming the target path.
	for _, hint := range writeToolHints {
		if strings.Contains(lower, hint) {
			prompt := fmt.Sprintf("Permission Request: %s", name)
			if target := pathArg(args); target != "" {
				prompt += "\n\nTarget: " + target
			}
			return RequireApproval(prompt)
		}
	}

	// 7. Everything else asks with a generic prompt.
	return RequireApproval(approvalPrompt(name, args, ""))
}

// decideShell classifies a shell command: safe read-only commands pass,
// confirm-listed substrings ask, everything else runs.
func (e *Engine) decideShell(name string, args json.RawMessage) Decision {
	var params struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(args, &params); err != nil || params.Command == "" {
		return RequireApproval(approvalPrompt(name, args, "unparseable shell arguments"))
	}

	// NFKC-normalize so width and compatibility variants cannot disguise
	// a confirm-listed substring or shell metacharacter.
	cmd := norm.NFKC.String(strings.TrimSpace(params.Command))

	if isSafeReadOnlyCommand(cmd) {
		return Allow()
	}

	for _, sub := range e.confirmList {
		if strings.Contains(cmd, sub) {
			return RequireApproval(fmt.Sprintf(
				"Permission Request: run shell command?\n\n%s\n\n(matched %q)", cmd, sub))
		}
	}

	return Allow()
}

// isSafeReadOnlyCommand reports whether cmd is on the fixed read-only
// allowlist with only simple arguments and no composition operators.
func isSafeReadOnlyCommand(cmd string) bool {
	for _, meta := range shellMetaChars {
		if strings.Contains(cmd, meta) {
			return false
		}
	}
	if strings.Contains(cmd, "||") {
		return false
	}
	return safeShellPattern.MatchString(cmd)
}

// approvalPrompt builds the generic approval prompt, truncating the argument
// snapshot to 100 characters.
func approvalPrompt(tool string, args json.RawMessage, note string) string {
	snapshot := strings.TrimSpace(string(args))
	if snapshot == "" {
		snapshot = "{}"
	}
	if len([]rune(snapshot)) > 100 {
		r := []rune(snapshot)
		snapshot = string(r[:100]) + "…"
	}
	prompt := fmt.Sprintf("Permission Request: %s\n\nArguments: %s", tool, snapshot)
	if note != "" {
		prompt += "\n\n" + note
	}
	return prompt
}

// pathArg extracts a path-like argument for approval prompts.
func pathArg(args json.RawMessage) string {
	var params map[string]json.RawMessage
	if json.Unmarshal(args, &params) != nil {
		return ""
	}
	for _, key := range []string{"path", "file", "file_path", "filename"} {
		if raw, ok := params[key]; ok {
			var s string
			if json.Unmarshal(raw, &s) == nil {
				return s
			}
		}
	}
	return ""
}

// logAudit appends the entry to the ring, mirrors it to the sink, and emits
// a structured log line.
func (e *Engine) logAudit(entry AuditEntry) {
	e.audit.append(entry)
	if e.sink != nil {
		if err := e.sink.Append(entry); err != nil {
			e.logger.Warn("audit sink append failed", "error", err)
		}
	}
	e.logger.Info("policy decision",
		"tool", entry.Tool,
		"user", entry.UserID,
		"chat", entry.ChatID,
		"decision", entry.Decision)
}

// AuditLog returns the retained audit entries in FIFO order.
func (e *Engine) AuditLog() []AuditEntry {
	return e.audit.entries()
}

package openaicompat

import "strings"

// defaultContextTokens is the conservative fallback for unknown models.
const defaultContextTokens = 128_000

// contextWindows maps model-name prefixes to context sizes. Longest prefix
// wins via ordered scan.
var contextWindows = []struct {
	prefix string
	tokens int
}{
	{"gpt-4.1", 1_047_576},
	{"gpt-4o", 128_000},
	{"gpt-5", 400_000},
	{"o3", 200_000},
	{"o4-mini", 200_000},
	{"qwen3", 262_144},
	{"qwen", 131_072},
	{"deepseek", 131_072},
	{"kimi", 262_144},
	{"moonshot", 131_072},
	{"glm", 131_072},
	{"llama", 131_072},
	{"mistral", 131_072},
}

func contextTokens(model string) int {
	m := strings.ToLower(model)
	best := 0
	tokens := defaultContextTokens
	for _, w := range contextWindows {
		if strings.HasPrefix(m, w.prefix) && len(w.prefix) > best {
			best = len(w.prefix)
			tokens = w.tokens
		}
	}
	return tokens
}

package llm

import (
	"log/slog"
	"strings"
)

// modelPrice is USD per 1K tokens.
type modelPrice struct {
	match  string
	input  float64
	output float64
}

// priceTable is matched by substring against the model name a provider
// reports. More specific names come first so that "gpt-4o-mini-2024-07-18"
// hits gpt-4o-mini rather than gpt-4o or gpt-4.
var priceTable = []modelPrice{
	// OpenAI
	{"gpt-4o-mini", 0.00015, 0.0006},
	{"gpt-4o", 0.0025, 0.01},
	{"gpt-4.1-nano", 0.0001, 0.0004},
	{"gpt-4.1-mini", 0.0004, 0.0016},
	{"gpt-4.1", 0.002, 0.008},
	{"gpt-4-turbo", 0.01, 0.03},
	{"gpt-4", 0.03, 0.06},
	{"gpt-3.5-turbo", 0.0005, 0.0015},
	{"o1-mini", 0.0011, 0.0044},
	{"o3-mini", 0.0011, 0.0044},
	{"o1", 0.015, 0.06},

	// Anthropic
	{"claude-3-5-haiku", 0.0008, 0.004},
	{"claude-3-haiku", 0.00025, 0.00125},
	{"claude-3-5-sonnet", 0.003, 0.015},
	{"claude-3-7-sonnet", 0.003, 0.015},
	{"claude-3-sonnet", 0.003, 0.015},
	{"claude-sonnet-4", 0.003, 0.015},
	{"claude-3-opus", 0.015, 0.075},
	{"claude-opus-4", 0.015, 0.075},
}

// LookupPrice finds the price entry for model.
func LookupPrice(model string) (input, output float64, ok bool) {
	m := strings.ToLower(model)
	for _, p := range priceTable {
		if strings.Contains(m, p.match) {
			return p.input, p.output, true
		}
	}
	return 0, 0, false
}

// CalculateCost prices a call. Models missing from the table cost zero and
// produce a warning so the table can be extended.
func CalculateCost(model string, inputTokens, outputTokens int) float64 {
	in, out, ok := LookupPrice(model)
	if !ok {
		if inputTokens+outputTokens > 0 {
			slog.Warn("no price for model, recording zero cost", "model", model)
		}
		return 0
	}
	return float64(inputTokens)/1000.0*in + float64(outputTokens)/1000.0*out
}

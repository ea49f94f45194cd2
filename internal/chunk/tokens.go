package chunk

import "strings"

// EstimateTokens applies a conservative char-ratio heuristic:
// max(1, chars/ratio), inflated 30% when the text looks code- or
// JSON-like. A real tokenizer is deliberately not used here: the chunk
// limits and the remote batch splitter are both defined in terms of this
// exact formula, so the estimate must be cheap, deterministic, and
// identical at every call site rather than model-accurate.
func EstimateTokens(text string, ratio int) int {
	if ratio <= 0 {
		ratio = 3
	}
	base := len(text) / ratio
	if base < 1 {
		base = 1
	}
	if looksCodeLike(text) {
		base = base + base*3/10
	}
	return base
}

// codeLikeIndentThreshold is the minimum fraction of lines that must be
// indentation-heavy for a text to be classified as code-like by
// indentation alone.
const codeLikeIndentThreshold = 0.3

func looksCodeLike(text string) bool {
	if strings.Contains(text, "{") && strings.Contains(text, "}") {
		return true
	}
	if strings.Contains(text, "`") {
		return true
	}
	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return false
	}
	indented := 0
	for _, l := range lines {
		if strings.HasPrefix(l, "  ") || strings.HasPrefix(l, "\t") {
			indented++
		}
	}
	return float64(indented)/float64(len(lines)) > codeLikeIndentThreshold
}

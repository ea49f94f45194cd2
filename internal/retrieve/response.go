package retrieve

import (
	"fmt"
	"strings"
)

// FormatStructured renders a ReflectResponse in a compact tag-delimited
// form: an outer element carrying query metadata, an ordered list of
// result elements, and optional raw payload blocks. Tag and attribute
// names are deliberately short because payload size dominates transport
// cost on this RPC.
func FormatStructured(resp ReflectResponse, includeRaw bool) string {
	var b strings.Builder
	lo, hi := scoreRange(resp.Results)
	decay := "off"
	if resp.DecayUsed {
		decay = "on"
	}
	fmt.Fprintf(&b, `<recall q=%q n="%d" lo="%.3f" hi="%.3f" p=%q d=%q em="%d" sm="%d">`,
		resp.Query, len(resp.Results), lo, hi, resp.EmbedProvider, decay, resp.EmbedMillis, resp.SearchMillis)
	b.WriteByte('\n')
	for _, r := range resp.Results {
		fmt.Fprintf(&b, `<r s="%.3f" t=%q pj=%q rl=%q`, r.Score, r.Timestamp, r.Project, r.Role)
		if r.ConversationID != "" {
			fmt.Fprintf(&b, ` c=%q`, r.ConversationID)
		}
		b.WriteByte('>')
		b.WriteString(r.Excerpt)
		b.WriteString("</r>\n")
		if includeRaw && r.Raw != nil {
			fmt.Fprintf(&b, "<raw>%v</raw>\n", r.Raw)
		}
	}
	b.WriteString("</recall>")
	return b.String()
}

// FormatMarkdown renders the same fields in human-readable text, for
// clients that display RPC output directly.
func FormatMarkdown(resp ReflectResponse) string {
	if len(resp.Results) == 0 {
		return fmt.Sprintf("No past context found for: %q", resp.Query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## Past context for: %s\n\n", resp.Query)
	for i, r := range resp.Results {
		fmt.Fprintf(&b, "%d. **%s** (score %.3f, %s)\n\n   %s\n\n", i+1, r.Project, r.Score, r.Timestamp, r.Excerpt)
	}
	return b.String()
}

// Format dispatches on responseFormat; anything other than "markdown"
// yields the structured form.
func Format(resp ReflectResponse, responseFormat string, includeRaw bool) string {
	if responseFormat == "markdown" {
		return FormatMarkdown(resp)
	}
	return FormatStructured(resp, includeRaw)
}

func scoreRange(results []ReflectResult) (lo, hi float32) {
	for i, r := range results {
		if i == 0 || r.Score < lo {
			lo = r.Score
		}
		if i == 0 || r.Score > hi {
			hi = r.Score
		}
	}
	return lo, hi
}

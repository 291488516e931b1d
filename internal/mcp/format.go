package mcp

import (
	"fmt"
	"strings"
)

// FormatSearchResults renders search_code output as markdown for clients
// that only display text content.
func FormatSearchResults(query string, out SearchCodeOutput) string {
	if len(out.Results) == 0 {
		return fmt.Sprintf("No results found for \"%s\"", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search Results for \"%s\"\n\n", query)
	fmt.Fprintf(&sb, "Found %d result", len(out.Results))
	if len(out.Results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")
	if out.DegradedQuery {
		sb.WriteString("> Embedding provider unavailable: the query used a hash fallback vector, so ranking is approximate.\n\n")
	}

	for i, r := range out.Results {
		formatResult(&sb, i+1, r)
	}
	return sb.String()
}

func formatResult(sb *strings.Builder, num int, r SearchResultOutput) {
	fmt.Fprintf(sb, "### %d. %s:%d-%d (score: %.2f)\n", num, r.Path, r.StartLine, r.EndLine, r.Score)

	var meta []string
	if r.Repository != "" {
		meta = append(meta, fmt.Sprintf("**Repository:** %s", r.Repository))
	}
	if r.Symbol != "" {
		sym := fmt.Sprintf("`%s`", r.Symbol)
		if r.SymbolType != "" {
			sym = fmt.Sprintf("%s `%s`", r.SymbolType, r.Symbol)
		}
		meta = append(meta, fmt.Sprintf("**Symbol:** %s", sym))
	}
	if r.CommitRef != "" {
		meta = append(meta, fmt.Sprintf("**Ref:** %s", shortRef(r.CommitRef)))
	}
	if r.Fallback {
		meta = append(meta, "_fallback embedding_")
	}
	if len(meta) > 0 {
		sb.WriteString(strings.Join(meta, " | "))
		sb.WriteString("\n\n")
	}

	lang := r.Language
	if lang == "" {
		lang = "text"
	}
	fmt.Fprintf(sb, "```%s\n%s\n```\n", lang, strings.TrimRight(r.Snippet, "\n"))
	if r.Truncated {
		sb.WriteString("_(snippet truncated)_\n")
	}
	sb.WriteString("\n")
}

func shortRef(ref string) string {
	if len(ref) == 40 {
		return ref[:12]
	}
	return ref
}

package search

import (
	"strconv"
	"strings"

	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
	"github.com/Aman-CERP/coderecall/internal/store"
)

// Defaults used when the engine config leaves a limit unset.
const (
	DefaultTopK         = 10
	MaxTopK             = 100
	DefaultSnippetLines = 20
)

// NormalizePathPrefix makes a user-supplied prefix comparable with the
// slash-separated relative paths stored in chunk metadata.
func NormalizePathPrefix(prefix string) string {
	prefix = strings.ReplaceAll(strings.TrimSpace(prefix), "\\", "/")
	for {
		switch {
		case strings.HasPrefix(prefix, "./"):
			prefix = prefix[2:]
		case strings.HasPrefix(prefix, "/"):
			prefix = prefix[1:]
		default:
			return prefix
		}
	}
}

// validate checks the query and returns a copy with limits applied.
func validate(q Query, cfg EngineConfig) (Query, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return q, crerrors.New(crerrors.ErrCodeQueryEmpty, "search query is empty", nil).
			WithSuggestion("Pass the text to search for")
	}
	if q.TopK < 0 {
		return q, crerrors.ValidationError("top_k must not be negative", nil).
			WithDetail("top_k", strconv.Itoa(q.TopK))
	}
	if q.TopK == 0 {
		q.TopK = cfg.DefaultTopK
	}
	if q.TopK > cfg.MaxTopK {
		q.TopK = cfg.MaxTopK
	}
	q.PathPrefix = NormalizePathPrefix(q.PathPrefix)
	return q, nil
}

// filterFor translates query filters into a store filter. Filters apply
// inside the store, before ranking.
func filterFor(q Query) store.Filter {
	f := store.Filter{PathPrefix: q.PathPrefix}
	equals := map[string]string{}
	if q.Repository != "" {
		equals[store.MetaRepository] = q.Repository
	}
	if q.Language != "" {
		equals[store.MetaLanguage] = strings.ToLower(q.Language)
	}
	if len(equals) > 0 {
		f.Equals = equals
	}
	return f
}

// snippet returns at most maxLines lines of content.
func snippet(content string, maxLines int) (string, bool) {
	content = strings.TrimRight(content, "\n")
	if maxLines <= 0 {
		return content, false
	}
	n := 0
	for i := 0; i < len(content); i++ {
		if content[i] != '\n' {
			continue
		}
		n++
		if n == maxLines {
			return content[:i], true
		}
	}
	return content, false
}

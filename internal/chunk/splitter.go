package chunk

import (
	"context"
	"log/slog"
)

// Result is the outcome of splitting one file.
type Result struct {
	Candidates []Candidate
	// Fallback is set when the file's grammar chunker failed and the window
	// chunker produced the candidates instead.
	Fallback bool
	// ParseErr holds the recovered parse error, if any.
	ParseErr error
}

// Splitter dispatches a file to its language chunker and degrades to the
// window chunker when parsing fails. It is safe for concurrent use.
type Splitter struct {
	registry *LanguageRegistry
	window   WindowChunker
	markdown *MarkdownChunker
	code     map[string]*CodeChunker
}

// NewSplitter builds a splitter with the given fallback window settings.
func NewSplitter(windowLines, overlapLines int) *Splitter {
	window := NewWindowChunker(windowLines, overlapLines)
	registry := DefaultRegistry()

	names := registry.Languages()
	code := make(map[string]*CodeChunker, len(names))
	for _, name := range names {
		cfg, _ := registry.GetByName(name)
		code[name] = NewCodeChunker(cfg, window)
	}

	return &Splitter{
		registry: registry,
		window:   window,
		markdown: NewMarkdownChunker(window),
		code:     code,
	}
}

// ChunkerFor returns the dedicated chunker for language, or the window chunker.
func (s *Splitter) ChunkerFor(language string) Chunker {
	if language == "markdown" {
		return s.markdown
	}
	if c, ok := s.code[language]; ok {
		return c
	}
	return s.window
}

// Split chunks one file. An empty language is inferred from the path's
// extension. A cancelled context is the only error returned; parse
// failures are logged and recovered with the window chunker.
func (s *Splitter) Split(ctx context.Context, path, language string, source []byte) (Result, error) {
	if language == "" {
		language, _ = s.registry.LanguageForPath(path)
	}
	candidates, err := s.ChunkerFor(language).Chunk(ctx, path, source)
	if err == nil {
		return Result{Candidates: candidates}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}

	slog.Warn("chunk_parse_fallback",
		slog.String("path", path),
		slog.String("language", language),
		slog.String("error", err.Error()))

	candidates, _ = s.window.Chunk(ctx, path, source)
	return Result{Candidates: candidates, Fallback: true, ParseErr: err}, nil
}

package chunk

import (
	"bytes"
	"context"
	"strings"
)

// MarkdownChunker splits documents at ATX headings (# .. ######), ignoring
// heading-like lines inside fenced code blocks. Sections longer than the
// window are split into line windows.
type MarkdownChunker struct {
	window WindowChunker
}

// NewMarkdownChunker returns a heading-aware chunker.
func NewMarkdownChunker(window WindowChunker) *MarkdownChunker {
	return &MarkdownChunker{window: window}
}

// Chunk implements Chunker.
func (m *MarkdownChunker) Chunk(_ context.Context, _ string, source []byte) ([]Candidate, error) {
	if len(bytes.TrimSpace(source)) == 0 {
		return nil, nil
	}

	idx := newLineIndex(source)

	type section struct {
		start int
		title string
	}
	sections := []section{{start: 0}}

	inFence := false
	for _, lineStart := range idx {
		if lineStart >= len(source) {
			break
		}
		lineEnd := bytes.IndexByte(source[lineStart:], '\n')
		if lineEnd < 0 {
			lineEnd = len(source) - lineStart
		}
		line := strings.TrimSpace(string(source[lineStart : lineStart+lineEnd]))

		if strings.HasPrefix(line, "```") || strings.HasPrefix(line, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if title, ok := headingTitle(line); ok {
			if lineStart == 0 {
				sections[0].title = title
				continue
			}
			sections = append(sections, section{start: lineStart, title: title})
		}
	}

	var out []Candidate
	for i, sec := range sections {
		end := len(source)
		if i+1 < len(sections) {
			end = sections[i+1].start
		}
		if len(bytes.TrimSpace(source[sec.start:end])) == 0 {
			continue
		}
		if idx.lineOf(end-1)-idx.lineOf(sec.start)+1 <= m.window.Lines {
			out = append(out, newCandidate(source, idx, sec.start, end, sec.title, SymbolTypeSection))
			continue
		}
		out = append(out, m.window.split(source, idx, sec.start, end, sec.title, SymbolTypeSection)...)
	}

	return out, nil
}

func headingTitle(line string) (string, bool) {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return "", false
	}
	if level < len(line) && line[level] != ' ' && line[level] != '\t' {
		return "", false
	}
	return strings.TrimSpace(line[level:]), true
}

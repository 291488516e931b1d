package chunk

import (
	"bytes"
	"context"
	"sort"
)

// WindowChunker splits text into fixed-size line windows that overlap by
// Overlap lines. It handles any language and never fails.
type WindowChunker struct {
	Lines   int
	Overlap int
}

// NewWindowChunker returns a window chunker, clamping invalid settings to defaults.
func NewWindowChunker(lines, overlap int) WindowChunker {
	if lines <= 0 {
		lines = DefaultWindowLines
	}
	if overlap < 0 || overlap >= lines {
		overlap = 0
	}
	return WindowChunker{Lines: lines, Overlap: overlap}
}

// Chunk implements Chunker.
func (w WindowChunker) Chunk(_ context.Context, _ string, source []byte) ([]Candidate, error) {
	return w.split(source, newLineIndex(source), 0, len(source), "", SymbolTypeWindow), nil
}

// split windows the byte range [start, end) of source. Candidates inherit
// symbol and kind so a split definition keeps its name.
func (w WindowChunker) split(source []byte, idx lineIndex, start, end int, symbol string, kind SymbolType) []Candidate {
	if start >= end {
		return nil
	}

	starts := []int{start}
	for p := start; p < end; p++ {
		if source[p] == '\n' && p+1 < end {
			starts = append(starts, p+1)
		}
	}

	step := w.Lines - w.Overlap
	var out []Candidate
	for i := 0; i < len(starts); i += step {
		last := i + w.Lines
		segEnd := end
		if last < len(starts) {
			segEnd = starts[last]
		}
		segStart := starts[i]

		if len(bytes.TrimSpace(source[segStart:segEnd])) > 0 {
			out = append(out, newCandidate(source, idx, segStart, segEnd, symbol, kind))
		}
		if last >= len(starts) {
			break
		}
	}
	return out
}

// lineIndex maps byte offsets to 1-indexed line numbers.
type lineIndex []int

func newLineIndex(source []byte) lineIndex {
	idx := lineIndex{0}
	for i, b := range source {
		if b == '\n' {
			idx = append(idx, i+1)
		}
	}
	return idx
}

// lineOf returns the line containing byte offset off.
func (l lineIndex) lineOf(off int) int {
	return sort.Search(len(l), func(i int) bool { return l[i] > off })
}

func newCandidate(source []byte, idx lineIndex, start, end int, symbol string, kind SymbolType) Candidate {
	return Candidate{
		Content:    string(source[start:end]),
		StartByte:  start,
		EndByte:    end,
		StartLine:  idx.lineOf(start),
		EndLine:    idx.lineOf(end - 1),
		Symbol:     symbol,
		SymbolType: kind,
	}
}

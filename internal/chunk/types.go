package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Window defaults for the fallback chunker.
const (
	DefaultWindowLines  = 200
	DefaultOverlapLines = 20
)

// SymbolType represents the kind of code symbol a candidate covers.
type SymbolType string

const (
	SymbolTypeFunction  SymbolType = "function"
	SymbolTypeMethod    SymbolType = "method"
	SymbolTypeClass     SymbolType = "class"
	SymbolTypeInterface SymbolType = "interface"
	SymbolTypeType      SymbolType = "type"
	SymbolTypeModule    SymbolType = "module"
	SymbolTypeSection   SymbolType = "section"
	SymbolTypeWindow    SymbolType = "window"
)

// Candidate is a chunk before it is bound to a repository. Byte offsets are
// half-open [StartByte, EndByte); lines are 1-indexed and inclusive.
type Candidate struct {
	Content    string
	StartByte  int
	EndByte    int
	StartLine  int
	EndLine    int
	Symbol     string
	SymbolType SymbolType
}

// Chunk is an immutable, content-addressed unit of source text.
type Chunk struct {
	ID         string
	RepoID     string
	FilePath   string
	Language   string
	StartLine  int
	EndLine    int
	StartByte  int
	EndByte    int
	Content    string
	Symbol     string
	SymbolType SymbolType
}

// Chunker splits one file into ordered candidates. Implementations hold no
// mutable state, so one instance may be shared across goroutines.
type Chunker interface {
	Chunk(ctx context.Context, path string, source []byte) ([]Candidate, error)
}

// NewChunkID derives a chunk id from its repository, location and content.
// Identical text at the same byte range in the same file always yields the same id.
func NewChunkID(repoID, path string, startByte, endByte int, content string) string {
	h := sha256.New()
	h.Write([]byte(repoID))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(startByte)))
	h.Write([]byte{':'})
	h.Write([]byte(strconv.Itoa(endByte)))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

// Bind turns candidates into chunks owned by repoID.
func Bind(repoID, path, language string, candidates []Candidate) []Chunk {
	chunks := make([]Chunk, 0, len(candidates))
	for _, c := range candidates {
		chunks = append(chunks, Chunk{
			ID:         NewChunkID(repoID, path, c.StartByte, c.EndByte, c.Content),
			RepoID:     repoID,
			FilePath:   path,
			Language:   language,
			StartLine:  c.StartLine,
			EndLine:    c.EndLine,
			StartByte:  c.StartByte,
			EndByte:    c.EndByte,
			Content:    c.Content,
			Symbol:     c.Symbol,
			SymbolType: c.SymbolType,
		})
	}
	return chunks
}

// Tree represents a parsed AST.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// Node represents a node in the AST.
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	Children   []*Node
	HasError   bool
}

// Point represents a position in the source code.
type Point struct {
	Row    uint32 // 0-indexed line number
	Column uint32
}

package chunk

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
)

// CodeChunker splits source at top-level definition boundaries using a
// tree-sitter grammar. Consecutive non-definition nodes (imports, globals,
// statements) are grouped into module-level blocks.
type CodeChunker struct {
	lang   *LanguageConfig
	window WindowChunker
}

// NewCodeChunker returns a boundary-aware chunker for lang. Definitions
// longer than window.Lines are split by member or by line window.
func NewCodeChunker(lang *LanguageConfig, window WindowChunker) *CodeChunker {
	return &CodeChunker{lang: lang, window: window}
}

// Chunk implements Chunker. Any syntax error in the file is reported as a
// ParseError so the caller can fall back to windows for this file alone.
func (c *CodeChunker) Chunk(ctx context.Context, path string, source []byte) ([]Candidate, error) {
	if len(bytes.TrimSpace(source)) == 0 {
		return nil, nil
	}

	tree, err := parse(ctx, source, c.lang)
	if err != nil {
		return nil, parseError(path, c.lang.Name, err)
	}
	if tree.Root == nil || tree.Root.HasError {
		return nil, parseError(path, c.lang.Name, fmt.Errorf("syntax error near line %d", firstErrorLine(tree.Root)))
	}

	idx := newLineIndex(source)
	var (
		out      []Candidate
		block    []*Node
		comments []*Node
	)

	flush := func() {
		if len(block) == 0 {
			return
		}
		start, end := int(block[0].StartByte), int(block[len(block)-1].EndByte)
		out = append(out, c.span(source, idx, start, end, "", SymbolTypeModule)...)
		block = nil
	}

	for _, n := range tree.Root.Children {
		if c.lang.isComment(n.Type) {
			comments = append(comments, n)
			continue
		}

		def, kind, ok := c.definition(n)
		if !ok {
			block = append(block, comments...)
			block = append(block, n)
			comments = nil
			continue
		}

		start := int(n.StartByte)
		if len(comments) > 0 && attached(comments, n) {
			start = int(comments[0].StartByte)
		} else {
			block = append(block, comments...)
		}
		comments = nil
		flush()

		out = append(out, c.emitDefinition(source, idx, start, n, def, kind)...)
	}

	block = append(block, comments...)
	flush()

	return out, nil
}

// definition reports whether n is a chunk-worthy definition, unwrapping
// exports, decorators and templates. It returns the innermost definition node.
func (c *CodeChunker) definition(n *Node) (*Node, SymbolType, bool) {
	if kind, ok := c.lang.Definitions[n.Type]; ok {
		return n, kind, true
	}
	if isFunctionBinding(n) {
		return n, SymbolTypeFunction, true
	}
	if c.lang.isWrapper(n.Type) {
		for _, child := range n.Children {
			if def, kind, ok := c.definition(child); ok {
				return def, kind, true
			}
		}
	}
	return nil, "", false
}

// isFunctionBinding matches `const f = () => {}` and `let g = function() {}`.
func isFunctionBinding(n *Node) bool {
	if n.Type != "lexical_declaration" && n.Type != "variable_declaration" {
		return false
	}
	for _, decl := range n.Children {
		if decl.Type != "variable_declarator" {
			continue
		}
		for _, v := range decl.Children {
			switch v.Type {
			case "arrow_function", "function", "function_expression", "generator_function":
				return true
			}
		}
	}
	return false
}

func (c *CodeChunker) emitDefinition(source []byte, idx lineIndex, start int, outer, def *Node, kind SymbolType) []Candidate {
	end := int(outer.EndByte)
	name := symbolName(def, source)

	if idx.lineOf(end-1)-idx.lineOf(start)+1 <= c.window.Lines {
		return []Candidate{newCandidate(source, idx, start, end, name, kind)}
	}

	if bodyType, ok := c.lang.Members[def.Type]; ok {
		if body := def.FindChildByType(bodyType); body != nil {
			if parts := c.splitMembers(source, idx, start, end, body, name, kind); len(parts) > 0 {
				return parts
			}
		}
	}

	return c.window.split(source, idx, start, end, name, kind)
}

// splitMembers emits one candidate per member of an oversized container and
// groups the text between members (header, fields, closing brace) into
// segments of their own.
func (c *CodeChunker) splitMembers(source []byte, idx lineIndex, start, end int, body *Node, owner string, kind SymbolType) []Candidate {
	var members []*Node
	for _, child := range body.Children {
		if c.lang.isMember(child.Type) {
			members = append(members, child)
		}
	}
	if len(members) == 0 {
		return nil
	}

	var out []Candidate
	segStart := start
	for _, m := range members {
		out = append(out, c.segment(source, idx, segStart, int(m.StartByte), owner, kind)...)

		memberName := symbolName(m, source)
		if owner != "" && memberName != "" {
			memberName = owner + "." + memberName
		}
		out = append(out, c.span(source, idx, int(m.StartByte), int(m.EndByte), memberName, SymbolTypeMethod)...)
		segStart = int(m.EndByte)
	}
	out = append(out, c.segment(source, idx, segStart, end, owner, kind)...)

	return out
}

// segment emits the text between members unless it is only punctuation.
func (c *CodeChunker) segment(source []byte, idx lineIndex, start, end int, name string, kind SymbolType) []Candidate {
	trimmed := bytes.Trim(source[start:end], " \t\r\n{}();,")
	if len(trimmed) == 0 {
		return nil
	}
	return c.span(source, idx, start, end, name, kind)
}

// span emits [start, end) as one candidate, or as windows when it is too long.
func (c *CodeChunker) span(source []byte, idx lineIndex, start, end int, name string, kind SymbolType) []Candidate {
	if start >= end || len(bytes.TrimSpace(source[start:end])) == 0 {
		return nil
	}
	if idx.lineOf(end-1)-idx.lineOf(start)+1 <= c.window.Lines {
		return []Candidate{newCandidate(source, idx, start, end, name, kind)}
	}
	return c.window.split(source, idx, start, end, name, kind)
}

// attached reports whether the comment run ends on the line directly above n.
func attached(comments []*Node, n *Node) bool {
	last := comments[len(comments)-1]
	return n.StartPoint.Row <= last.EndPoint.Row+1
}

var identifierTypes = map[string]bool{
	"identifier":           true,
	"type_identifier":      true,
	"field_identifier":     true,
	"property_identifier":  true,
	"qualified_identifier": true,
	"destructor_name":      true,
	"operator_name":        true,
	"constant":             true,
	"name":                 true,
}

// symbolName finds the defining identifier of n with a shallow breadth-first
// search that skips parameter lists and bodies. C-family declarators are
// searched first so return types are not mistaken for names.
func symbolName(n *Node, source []byte) string {
	if decl := findDeclarator(n); decl != nil {
		n = decl
	}

	level := []*Node{n}
	for depth := 0; depth < 3 && len(level) > 0; depth++ {
		var next []*Node
		for _, node := range level {
			for _, child := range node.Children {
				if identifierTypes[child.Type] {
					return child.Content(source)
				}
				if !skipForName(child.Type) {
					next = append(next, child)
				}
			}
		}
		level = next
	}
	return ""
}

func findDeclarator(n *Node) *Node {
	var found *Node
	n.Walk(func(child *Node) bool {
		if found != nil {
			return false
		}
		if child.Type == "function_declarator" {
			found = child
			return false
		}
		return !skipForName(child.Type) || child == n
	})
	return found
}

func skipForName(nodeType string) bool {
	for _, s := range []string{"body", "block", "parameter", "argument", "declaration_list", "compound_statement", "type_annotation"} {
		if strings.Contains(nodeType, s) {
			return true
		}
	}
	return false
}

func firstErrorLine(root *Node) int {
	line := 0
	if root == nil {
		return line
	}
	root.Walk(func(n *Node) bool {
		if line != 0 {
			return false
		}
		if n.Type == "ERROR" || (n.HasError && len(n.Children) == 0) {
			line = int(n.StartPoint.Row) + 1
			return false
		}
		return n.HasError
	})
	return line
}

func parseError(path, language string, cause error) error {
	return crerrors.New(crerrors.ErrCodeParseFailed, "failed to parse "+path, cause).
		WithDetail("path", path).
		WithDetail("language", language)
}

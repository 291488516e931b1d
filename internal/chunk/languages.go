package chunk

import (
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageConfig describes how a grammar's top-level definitions map to chunks.
type LanguageConfig struct {
	Name       string
	Extensions []string

	// Definitions maps top-level node types to the symbol kind they define.
	Definitions map[string]SymbolType

	// Members maps container node types (classes, impls) to the body node
	// holding their methods, used to split oversized containers.
	Members map[string]string

	// MemberTypes are node types inside a container body that become
	// their own chunk when the container is split.
	MemberTypes []string

	// Wrappers are node types (export, decorators, templates) that take the
	// kind of the definition they wrap.
	Wrappers []string

	// CommentTypes are node types attached to the following definition.
	CommentTypes []string

	grammar *sitter.Language
}

// LanguageRegistry maps file extensions to language configurations.
// It is built once and never mutated afterwards.
type LanguageRegistry struct {
	configs   map[string]*LanguageConfig
	extToLang map[string]string
}

var defaultRegistry = newLanguageRegistry()

// DefaultRegistry returns the built-in language registry.
func DefaultRegistry() *LanguageRegistry {
	return defaultRegistry
}

func newLanguageRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		configs:   make(map[string]*LanguageConfig),
		extToLang: make(map[string]string),
	}

	cStyleComments := []string{"comment"}

	r.register(&LanguageConfig{
		Name:       "go",
		Extensions: []string{".go"},
		Definitions: map[string]SymbolType{
			"function_declaration": SymbolTypeFunction,
			"method_declaration":   SymbolTypeMethod,
			"type_declaration":     SymbolTypeType,
		},
		CommentTypes: cStyleComments,
	}, golang.GetLanguage())

	r.register(&LanguageConfig{
		Name:       "python",
		Extensions: []string{".py", ".pyi"},
		Definitions: map[string]SymbolType{
			"function_definition": SymbolTypeFunction,
			"class_definition":    SymbolTypeClass,
		},
		Members:      map[string]string{"class_definition": "block"},
		MemberTypes:  []string{"function_definition", "decorated_definition"},
		Wrappers:     []string{"decorated_definition"},
		CommentTypes: cStyleComments,
	}, python.GetLanguage())

	jsDefs := map[string]SymbolType{
		"function_declaration":           SymbolTypeFunction,
		"generator_function_declaration": SymbolTypeFunction,
		"class_declaration":              SymbolTypeClass,
	}
	js := &LanguageConfig{
		Name:         "javascript",
		Extensions:   []string{".js", ".mjs", ".cjs"},
		Definitions:  jsDefs,
		Members:      map[string]string{"class_declaration": "class_body"},
		MemberTypes:  []string{"method_definition"},
		Wrappers:     []string{"export_statement"},
		CommentTypes: cStyleComments,
	}
	r.register(js, javascript.GetLanguage())
	jsx := *js
	jsx.Name = "jsx"
	jsx.Extensions = []string{".jsx"}
	r.register(&jsx, javascript.GetLanguage())

	tsDefs := map[string]SymbolType{
		"interface_declaration":      SymbolTypeInterface,
		"type_alias_declaration":     SymbolTypeType,
		"enum_declaration":           SymbolTypeType,
		"abstract_class_declaration": SymbolTypeClass,
	}
	for k, v := range jsDefs {
		tsDefs[k] = v
	}
	ts := &LanguageConfig{
		Name:        "typescript",
		Extensions:  []string{".ts", ".mts", ".cts"},
		Definitions: tsDefs,
		Members: map[string]string{
			"class_declaration":          "class_body",
			"abstract_class_declaration": "class_body",
		},
		MemberTypes:  []string{"method_definition", "abstract_method_signature"},
		Wrappers:     []string{"export_statement"},
		CommentTypes: cStyleComments,
	}
	r.register(ts, typescript.GetLanguage())
	tsxCfg := *ts
	tsxCfg.Name = "tsx"
	tsxCfg.Extensions = []string{".tsx"}
	r.register(&tsxCfg, tsx.GetLanguage())

	r.register(&LanguageConfig{
		Name:       "rust",
		Extensions: []string{".rs"},
		Definitions: map[string]SymbolType{
			"function_item":    SymbolTypeFunction,
			"struct_item":      SymbolTypeType,
			"enum_item":        SymbolTypeType,
			"union_item":       SymbolTypeType,
			"type_item":        SymbolTypeType,
			"trait_item":       SymbolTypeInterface,
			"impl_item":        SymbolTypeClass,
			"mod_item":         SymbolTypeModule,
			"macro_definition": SymbolTypeFunction,
		},
		Members: map[string]string{
			"impl_item":  "declaration_list",
			"trait_item": "declaration_list",
		},
		MemberTypes:  []string{"function_item", "function_signature_item"},
		CommentTypes: []string{"line_comment", "block_comment"},
	}, rust.GetLanguage())

	r.register(&LanguageConfig{
		Name:       "java",
		Extensions: []string{".java"},
		Definitions: map[string]SymbolType{
			"class_declaration":     SymbolTypeClass,
			"interface_declaration": SymbolTypeInterface,
			"enum_declaration":      SymbolTypeType,
			"record_declaration":    SymbolTypeClass,
		},
		Members: map[string]string{
			"class_declaration":     "class_body",
			"interface_declaration": "interface_body",
			"enum_declaration":      "enum_body",
			"record_declaration":    "class_body",
		},
		MemberTypes:  []string{"method_declaration", "constructor_declaration"},
		CommentTypes: []string{"line_comment", "block_comment"},
	}, java.GetLanguage())

	r.register(&LanguageConfig{
		Name:       "c",
		Extensions: []string{".c", ".h"},
		Definitions: map[string]SymbolType{
			"function_definition": SymbolTypeFunction,
			"struct_specifier":    SymbolTypeType,
			"enum_specifier":      SymbolTypeType,
			"type_definition":     SymbolTypeType,
		},
		CommentTypes: cStyleComments,
	}, c.GetLanguage())

	r.register(&LanguageConfig{
		Name:       "cpp",
		Extensions: []string{".cc", ".cpp", ".cxx", ".hpp", ".hh"},
		Definitions: map[string]SymbolType{
			"function_definition":  SymbolTypeFunction,
			"class_specifier":      SymbolTypeClass,
			"struct_specifier":     SymbolTypeType,
			"enum_specifier":       SymbolTypeType,
			"namespace_definition": SymbolTypeModule,
		},
		Members: map[string]string{
			"class_specifier":  "field_declaration_list",
			"struct_specifier": "field_declaration_list",
		},
		MemberTypes:  []string{"function_definition"},
		Wrappers:     []string{"template_declaration"},
		CommentTypes: cStyleComments,
	}, cpp.GetLanguage())

	return r
}

func (r *LanguageRegistry) register(cfg *LanguageConfig, grammar *sitter.Language) {
	cfg.grammar = grammar
	r.configs[cfg.Name] = cfg
	for _, ext := range cfg.Extensions {
		r.extToLang[ext] = cfg.Name
	}
}

// GetByName returns the configuration for a language name.
func (r *LanguageRegistry) GetByName(name string) (*LanguageConfig, bool) {
	cfg, ok := r.configs[name]
	return cfg, ok
}

// LanguageForPath returns the grammar-backed language for path, if any.
func (r *LanguageRegistry) LanguageForPath(path string) (string, bool) {
	lang, ok := r.extToLang[strings.ToLower(filepath.Ext(path))]
	return lang, ok
}

// Languages returns the supported language names in sorted order.
func (r *LanguageRegistry) Languages() []string {
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (cfg *LanguageConfig) isWrapper(nodeType string) bool {
	for _, w := range cfg.Wrappers {
		if w == nodeType {
			return true
		}
	}
	return false
}

func (cfg *LanguageConfig) isComment(nodeType string) bool {
	for _, c := range cfg.CommentTypes {
		if c == nodeType {
			return true
		}
	}
	return false
}

func (cfg *LanguageConfig) isMember(nodeType string) bool {
	for _, m := range cfg.MemberTypes {
		if m == nodeType {
			return true
		}
	}
	return false
}

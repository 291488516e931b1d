package scanner

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"
)

// ignoreRule is one compiled .gitignore line.
type ignoreRule struct {
	re       *regexp.Regexp
	negate   bool
	dirOnly  bool
	anchored bool
}

// ignoreMatcher holds the rules of a single .gitignore file. Paths passed to
// Match are relative to the directory containing that file.
type ignoreMatcher struct {
	rules []ignoreRule
}

func loadIgnoreFile(file string) (*ignoreMatcher, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open gitignore file: %w", err)
	}
	defer func() { _ = f.Close() }()

	m := &ignoreMatcher{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m.add(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read gitignore file: %w", err)
	}
	return m, nil
}

func (m *ignoreMatcher) add(line string) {
	line = strings.TrimRight(line, " \t\r")
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}

	var r ignoreRule
	switch {
	case strings.HasPrefix(line, `\`):
		line = line[1:]
	case strings.HasPrefix(line, "!"):
		r.negate = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		r.anchored = true
		line = line[1:]
	} else if strings.Contains(line, "/") && !strings.HasPrefix(line, "**/") {
		r.anchored = true
	}
	if line == "" {
		return
	}

	re, err := regexp.Compile("^" + globToRegex(line) + "$")
	if err != nil {
		return
	}
	r.re = re
	m.rules = append(m.rules, r)
}

// Match reports whether rel (slash-separated) is ignored. Later rules win,
// and a file under an ignored directory is ignored.
func (m *ignoreMatcher) Match(rel string, isDir bool) bool {
	ignored := false
	for _, r := range m.rules {
		if r.matches(rel, isDir) {
			ignored = !r.negate
		}
	}
	return ignored
}

func (r ignoreRule) matches(rel string, isDir bool) bool {
	parts := strings.Split(rel, "/")

	// Any ancestor directory matching the rule ignores everything below it.
	for i := 1; i < len(parts); i++ {
		if r.matchOne(strings.Join(parts[:i], "/"), parts[i-1]) {
			return true
		}
	}

	if r.dirOnly && !isDir {
		return false
	}
	return r.matchOne(rel, parts[len(parts)-1])
}

func (r ignoreRule) matchOne(full, base string) bool {
	if r.anchored {
		return r.re.MatchString(full)
	}
	return r.re.MatchString(base) || r.re.MatchString(full)
}

// globToRegex converts gitignore glob syntax to a regular expression.
func globToRegex(glob string) string {
	var sb strings.Builder
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				if i+2 < len(glob) && glob[i+2] == '/' {
					sb.WriteString("(?:.*/)?")
					i += 2
				} else {
					sb.WriteString(".*")
					i++
				}
				continue
			}
			sb.WriteString("[^/]*")
		case '?':
			sb.WriteString("[^/]")
		case '[':
			if j := strings.IndexByte(glob[i:], ']'); j > 0 {
				class := glob[i : i+j+1]
				if strings.HasPrefix(class, "[!") {
					class = "[^" + class[2:]
				}
				sb.WriteString(class)
				i += j
				continue
			}
			sb.WriteString(`\[`)
		case '\\':
			if i+1 < len(glob) {
				i++
				sb.WriteString(regexp.QuoteMeta(string(glob[i])))
			}
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return sb.String()
}

// matchPattern evaluates the scanner's exclude syntax against a slash path:
// "**/name/**" matches a path component, "dir/**" matches a prefix, and
// anything else is a glob tried against the base name and the full path.
func matchPattern(rel, pattern string) bool {
	if strings.HasPrefix(pattern, "**/") && strings.HasSuffix(pattern, "/**") {
		name := strings.TrimSuffix(strings.TrimPrefix(pattern, "**/"), "/**")
		for _, part := range strings.Split(rel, "/") {
			if part == name {
				return true
			}
		}
		return false
	}
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return rel == prefix || strings.HasPrefix(rel, prefix+"/")
	}

	pattern = strings.TrimPrefix(pattern, "**/")
	if ok, _ := path.Match(pattern, path.Base(rel)); ok {
		return true
	}
	ok, _ := path.Match(pattern, rel)
	return ok
}

package scanner

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ResolveRef returns the commit hash checked out at root. The second result
// is false when root is not a git work tree or HEAD cannot be resolved.
func ResolveRef(root string) (string, bool) {
	gitDir, ok := findGitDir(root)
	if !ok {
		return "", false
	}

	head, err := os.ReadFile(filepath.Join(gitDir, "HEAD"))
	if err != nil {
		return "", false
	}
	value := strings.TrimSpace(string(head))

	if !strings.HasPrefix(value, "ref:") {
		return value, value != ""
	}
	ref := strings.TrimSpace(strings.TrimPrefix(value, "ref:"))

	if data, err := os.ReadFile(filepath.Join(gitDir, filepath.FromSlash(ref))); err == nil {
		hash := strings.TrimSpace(string(data))
		return hash, hash != ""
	}

	hash, err := lookupPackedRef(filepath.Join(gitDir, "packed-refs"), ref)
	if err != nil {
		return "", false
	}
	return hash, true
}

// SnapshotRef is the reference recorded for trees that are not git work trees.
func SnapshotRef(t time.Time) string {
	return "snapshot-" + t.UTC().Format("20060102T150405Z")
}

// findGitDir resolves root/.git, following a "gitdir:" file for worktrees
// and submodules.
func findGitDir(root string) (string, bool) {
	dotGit := filepath.Join(root, ".git")
	info, err := os.Stat(dotGit)
	if err != nil {
		return "", false
	}
	if info.IsDir() {
		return dotGit, true
	}

	content, err := os.ReadFile(dotGit)
	if err != nil {
		return "", false
	}
	line := strings.TrimSpace(string(content))
	if !strings.HasPrefix(line, "gitdir:") {
		return "", false
	}
	dir := strings.TrimSpace(strings.TrimPrefix(line, "gitdir:"))
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	return dir, true
}

func lookupPackedRef(file, ref string) (string, error) {
	f, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "^") {
			continue
		}
		hash, name, ok := strings.Cut(line, " ")
		if ok && name == ref {
			return hash, nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("ref %s not found in packed-refs", ref)
}

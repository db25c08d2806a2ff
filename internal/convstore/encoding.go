package convstore

import (
	"os"
	"path/filepath"
	"strings"
)

// EncodeProjectDir maps an absolute working directory to the on-disk
// project directory name the Agent uses, per spec.md §4.1: replace `/`
// and `_` with `-`, and strip the leading `.` of hidden path components
// (represented as a doubled `--`).
func EncodeProjectDir(cwd string) string {
	cwd = filepath.Clean(cwd)
	parts := strings.Split(cwd, string(filepath.Separator))
	for i, p := range parts {
		if strings.HasPrefix(p, ".") && p != "." && p != ".." {
			parts[i] = "-" + strings.TrimPrefix(p, ".")
		}
	}
	joined := strings.Join(parts, "/")
	joined = strings.ReplaceAll(joined, "_", "-")
	return strings.ReplaceAll(joined, "/", "-")
}

// DecodeProjectDir reverses EncodeProjectDir. The encoding is lossy --
// both `/` and `_` collapse to `-` -- so the decoder resolves ambiguity
// by consulting the filesystem, per spec.md §4.1: it greedily joins
// right-to-left segments with `_` and tests existence, falling back to
// `/` interpretation. A single adjacent merge isn't always enough --
// e.g. an on-disk component like `my_proj_two` needs two consecutive
// underscore-merges recovered at once -- so resolveTokens backtracks
// over the full right-to-left merge/no-merge decision tree rather than
// committing to the first local probe that fails, short-circuiting on
// the first candidate that exists. Per spec.md P7, this must yield an
// absolute path that exists for any name the Agent actually produced.
func DecodeProjectDir(encoded string) string {
	if encoded == "" {
		return ""
	}
	segments := strings.Split(encoded, "-")
	// segments[0] is empty (path started with "/"); the rest are the
	// raw hyphen-delimited tokens to resolve into path components.
	tokens := collapseHidden(segments[1:])
	if resolved, ok := resolveTokens(tokens); ok {
		return filepath.Clean("/" + strings.Join(resolved, "/"))
	}
	// No merge combination resolved to an existing path (e.g. the
	// session's project directory has since been removed); fall back to
	// the literal "/" interpretation of every hyphen.
	return filepath.Clean("/" + strings.Join(tokens, "/"))
}

// collapseHidden restores the leading "." EncodeProjectDir strips for
// hidden path components, represented as a doubled "-" (an empty
// segment between two hyphens).
func collapseHidden(segments []string) []string {
	tokens := make([]string, 0, len(segments))
	for i := 0; i < len(segments); i++ {
		if segments[i] == "" && i+1 < len(segments) {
			i++
			tokens = append(tokens, "."+segments[i])
			continue
		}
		tokens = append(tokens, segments[i])
	}
	return tokens
}

// resolveTokens searches for a way to merge adjacent tokens with "_" so
// the resulting absolute path exists on disk.
func resolveTokens(tokens []string) ([]string, bool) {
	if pathExists("/" + strings.Join(tokens, "/")) {
		return tokens, true
	}
	return resolveFrom(tokens, len(tokens)-2)
}

// resolveFrom decides, right-to-left, whether the boundary between
// tokens[i] and tokens[i+1] was originally "_" or "/". It tries merging
// first (the spec's "greedily joins right-to-left" case) and recurses
// leftward on that outcome; if no merge at or left of i ever yields an
// existing path, it backtracks and tries leaving the boundary as "/"
// instead. This is a full backtracking search, not a single greedy
// pass, so it recovers cases needing more than one consecutive merge.
func resolveFrom(tokens []string, i int) ([]string, bool) {
	if i < 0 {
		return nil, false
	}
	merged := make([]string, 0, len(tokens)-1)
	merged = append(merged, tokens[:i]...)
	merged = append(merged, tokens[i]+"_"+tokens[i+1])
	merged = append(merged, tokens[i+2:]...)
	if pathExists("/" + strings.Join(merged, "/")) {
		return merged, true
	}
	if resolved, ok := resolveFrom(merged, i-1); ok {
		return resolved, true
	}
	return resolveFrom(tokens, i-1)
}

func pathExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

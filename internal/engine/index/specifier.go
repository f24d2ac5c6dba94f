package index

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"storyindex/internal/shared/util"

	"github.com/gobwas/glob"
)

// DefaultFilesPattern is used when a specifier names only a directory.
const DefaultFilesPattern = "**/*.@(mdx|stories.@(js|jsx|mjs|ts|tsx))"

// Specifier is one normalised stories entry: files under Directory matching
// Files, titled under TitlePrefix.
type Specifier struct {
	Directory   string
	Files       string
	TitlePrefix string

	matchers []glob.Glob
}

var extglob = regexp.MustCompile(`@\(([^()]*)\)`)

// translateExtglob rewrites @(a|b) groups, innermost first, to {a,b}.
func translateExtglob(pattern string) string {
	for extglob.MatchString(pattern) {
		pattern = extglob.ReplaceAllStringFunc(pattern, func(m string) string {
			inner := m[2 : len(m)-1]
			return "{" + strings.ReplaceAll(inner, "|", ",") + "}"
		})
	}
	return pattern
}

func isGlobSegment(seg string) bool {
	return strings.ContainsAny(seg, "*?[]{}()!")
}

// ParseSpecifier normalises a plain glob string. The leading segments
// without glob syntax become the directory. A string with no glob syntax
// names a directory searched with DefaultFilesPattern.
func ParseSpecifier(entry string) (Specifier, error) {
	entry = strings.TrimSpace(strings.ReplaceAll(entry, "\\", "/"))
	if entry == "" {
		return Specifier{}, fmt.Errorf("empty stories entry")
	}
	segments := strings.Split(entry, "/")
	split := len(segments)
	for i, seg := range segments {
		if isGlobSegment(seg) {
			split = i
			break
		}
	}
	if split == len(segments) {
		return NewSpecifier(entry, DefaultFilesPattern, "")
	}
	return NewSpecifier(strings.Join(segments[:split], "/"), strings.Join(segments[split:], "/"), "")
}

// NewSpecifier normalises a {directory, files, titlePrefix} entry.
func NewSpecifier(directory, files, titlePrefix string) (Specifier, error) {
	if strings.TrimSpace(files) == "" {
		files = DefaultFilesPattern
	}
	s := Specifier{
		Directory:   normalizeDirectory(directory),
		Files:       strings.ReplaceAll(files, "\\", "/"),
		TitlePrefix: titlePrefix,
	}
	full := translateExtglob(s.Directory + "/" + s.Files)
	for _, variant := range globstarVariants(full) {
		g, err := glob.Compile(variant, '/')
		if err != nil {
			return Specifier{}, fmt.Errorf("compile stories glob %q: %w", full, err)
		}
		s.matchers = append(s.matchers, g)
	}
	return s, nil
}

// normalizeDirectory returns a "./"-prefixed project-relative directory.
func normalizeDirectory(dir string) string {
	clean := util.NormalizePatternPath(dir)
	if clean == "" {
		return "."
	}
	if strings.HasPrefix(clean, "../") || strings.HasPrefix(clean, "/") {
		return clean
	}
	return "./" + clean
}

// globstarVariants lets every "**/" also match zero directories, which
// gobwas/glob does not do on its own.
func globstarVariants(pattern string) []string {
	parts := strings.Split(pattern, "**/")
	variants := []string{parts[0]}
	for _, part := range parts[1:] {
		next := make([]string, 0, len(variants)*2)
		for _, v := range variants {
			next = append(next, v+"**/"+part, v+part)
		}
		variants = next
	}
	return variants
}

// Matches reports whether importPath ("./"-prefixed, slash separated)
// belongs to the specifier.
func (s Specifier) Matches(importPath string) bool {
	for _, g := range s.matchers {
		if g.Match(importPath) {
			return true
		}
	}
	return false
}

// Root is the directory to walk, relative to the project root.
func (s Specifier) Root() string {
	return path.Clean(s.Directory)
}

// ImportPath converts a project-relative path into the index form.
func ImportPath(rel string) string {
	rel = util.NormalizePatternPath(rel)
	if strings.HasPrefix(rel, "../") {
		return rel
	}
	return "./" + rel
}

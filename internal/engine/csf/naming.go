package csf

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"unicode"
)

var (
	sanitizeChars  = regexp.MustCompile("[ ’–—―′¿'`~!@#$%^&*()_|+\\-=?;:'\",.<>{}\\[\\]\\\\/]")
	repeatedDashes = regexp.MustCompile("-+")
)

// Sanitize lower-cases s and turns separators and punctuation into single dashes.
func Sanitize(s string) string {
	out := sanitizeChars.ReplaceAllString(strings.ToLower(s), "-")
	out = repeatedDashes.ReplaceAllString(out, "-")
	return strings.Trim(out, "-")
}

func sanitizeSafe(s, part string) (string, error) {
	out := Sanitize(s)
	if out == "" {
		return "", fmt.Errorf("invalid %s '%s', must include alphanumeric characters", part, s)
	}
	return out, nil
}

// ToID builds a story id "<kind>--<name>" from a title (or meta id) and a
// story export name.
func ToID(kind, name string) (string, error) {
	k, err := sanitizeSafe(kind, "kind")
	if err != nil {
		return "", err
	}
	if name == "" {
		return k, nil
	}
	n, err := sanitizeSafe(name, "name")
	if err != nil {
		return "", err
	}
	return k + "--" + n, nil
}

// StoryNameFromExport start-cases an export identifier:
// "primaryButton" -> "Primary Button", "Story1" -> "Story 1".
func StoryNameFromExport(key string) string {
	words := splitWords(strings.ReplaceAll(key, "'", ""))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

func splitWords(s string) []string {
	runes := []rune(s)
	var words []string
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsDigit(r):
			j := i
			for j < len(runes) && unicode.IsDigit(runes[j]) {
				j++
			}
			words = append(words, string(runes[i:j]))
			i = j
		case unicode.IsUpper(r):
			j := i
			for j < len(runes) && unicode.IsUpper(runes[j]) {
				j++
			}
			if j < len(runes) && unicode.IsLower(runes[j]) {
				if j-i > 1 {
					words = append(words, string(runes[i:j-1]))
					i = j - 1
				}
				k := i + 1
				for k < len(runes) && unicode.IsLower(runes[k]) {
					k++
				}
				words = append(words, string(runes[i:k]))
				i = k
				continue
			}
			words = append(words, string(runes[i:j]))
			i = j
		case unicode.IsLetter(r):
			j := i
			for j < len(runes) && unicode.IsLetter(runes[j]) && !unicode.IsUpper(runes[j]) {
				j++
			}
			words = append(words, string(runes[i:j]))
			i = j
		default:
			i++
		}
	}
	return words
}

var storySuffix = regexp.MustCompile(`(?i)\.(stories|story)$`)

// AutoTitle derives a title from a project-relative file path: the path is
// taken relative to directory, the extension and a trailing .stories/.story
// are stripped, and path segments become title segments under titlePrefix.
func AutoTitle(fileName, directory, titlePrefix string) string {
	rel := toSlash(fileName)
	dir := strings.TrimSuffix(toSlash(directory), "/")
	if dir != "" && dir != "." && strings.HasPrefix(rel, dir+"/") {
		rel = strings.TrimPrefix(rel, dir+"/")
	}
	rel = strings.TrimPrefix(rel, "./")
	rel = strings.TrimSuffix(rel, path.Ext(rel))
	rel = storySuffix.ReplaceAllString(rel, "")

	segments := make([]string, 0, 4)
	for _, seg := range strings.Split(rel, "/") {
		if seg == "" || seg == "." {
			continue
		}
		segments = append(segments, seg)
	}
	return joinTitle(titlePrefix, strings.Join(segments, "/"))
}

// UserOrAutoTitle applies the specifier's titlePrefix to an explicit title,
// and falls back to AutoTitle when userTitle is empty.
func UserOrAutoTitle(fileName, directory, titlePrefix, userTitle string) string {
	if userTitle != "" {
		return joinTitle(titlePrefix, userTitle)
	}
	return AutoTitle(fileName, directory, titlePrefix)
}

func joinTitle(prefix, title string) string {
	prefix = strings.Trim(toSlash(prefix), "/")
	title = strings.Trim(title, "/")
	switch {
	case prefix == "":
		return title
	case title == "":
		return prefix
	}
	return prefix + "/" + title
}

func toSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// CombineTags merges tag lists left to right; "!tag" removes an earlier tag.
func CombineTags(sets ...[]string) []string {
	var out []string
	index := make(map[string]int)
	for _, set := range sets {
		for _, tag := range set {
			if strings.HasPrefix(tag, "!") {
				name := tag[1:]
				if i, ok := index[name]; ok {
					out = append(out[:i], out[i+1:]...)
					delete(index, name)
					for k, v := range index {
						if v > i {
							index[k] = v - 1
						}
					}
				}
				continue
			}
			if _, ok := index[tag]; ok {
				continue
			}
			index[tag] = len(out)
			out = append(out, tag)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

// DefaultTags are applied to every story before project, meta and story tags.
var DefaultTags = []string{"dev", "test"}

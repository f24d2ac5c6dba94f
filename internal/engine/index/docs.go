package index

import (
	"path"
	"regexp"
	"strings"

	"storyindex/internal/engine/parser"
)

// mdxDoc is what the indexer needs from an .mdx file: its <Meta> tag and the
// story files it imports.
type mdxDoc struct {
	Of      string
	Title   string
	Name    string
	Imports map[string]string
}

var (
	mdxImport  = regexp.MustCompile(`(?m)^\s*import\s+(.+?)\s+from\s+['"]([^'"]+)['"]`)
	mdxMetaTag = regexp.MustCompile(`<Meta\b([^>]*?)/?>`)
	mdxOfAttr  = regexp.MustCompile(`\bof=\{\s*([A-Za-z_$][\w$]*)\s*\}`)
	mdxAttr    = regexp.MustCompile(`\b(title|name)=(?:"([^"]*)"|'([^']*)'|\{\s*["'` + "`" + `]([^"'` + "`" + `]*)["'` + "`" + `]\s*\})`)
	mdxIdent   = regexp.MustCompile(`[A-Za-z_$][\w$]*`)
)

func scanMDX(source []byte) mdxDoc {
	doc := mdxDoc{Imports: make(map[string]string)}
	text := string(source)

	for _, m := range mdxImport.FindAllStringSubmatch(text, -1) {
		clause, from := m[1], m[2]
		for _, name := range importedNames(clause) {
			doc.Imports[name] = from
		}
	}

	if m := mdxMetaTag.FindStringSubmatch(text); m != nil {
		attrs := m[1]
		if of := mdxOfAttr.FindStringSubmatch(attrs); of != nil {
			doc.Of = of[1]
		}
		for _, a := range mdxAttr.FindAllStringSubmatch(attrs, -1) {
			value := a[2] + a[3] + a[4]
			switch a[1] {
			case "title":
				doc.Title = parser.UnescapeJS(value)
			case "name":
				doc.Name = parser.UnescapeJS(value)
			}
		}
	}
	return doc
}

// importedNames lists the local bindings of an import clause:
// `X`, `* as X`, `{ a, b as c }`, or a mix.
func importedNames(clause string) []string {
	var names []string
	clause = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(clause), "type "))
	if open := strings.Index(clause, "{"); open >= 0 {
		end := strings.Index(clause, "}")
		if end > open {
			for _, spec := range strings.Split(clause[open+1:end], ",") {
				fields := strings.Fields(spec)
				if len(fields) == 0 {
					continue
				}
				names = append(names, fields[len(fields)-1])
			}
			clause = clause[:open] + clause[end+1:]
		}
	}
	if i := strings.Index(clause, "* as "); i >= 0 {
		if id := mdxIdent.FindString(clause[i+5:]); id != "" {
			names = append(names, id)
		}
		clause = clause[:i]
	}
	for _, part := range strings.Split(clause, ",") {
		if id := mdxIdent.FindString(strings.TrimSpace(part)); id != "" && id == strings.TrimSpace(part) {
			names = append(names, id)
		}
	}
	return names
}

// resolveRelative joins a relative module specifier onto the importing file's
// import path. Bare specifiers (packages) resolve to "".
func resolveRelative(fromImportPath, spec string) string {
	if !strings.HasPrefix(spec, ".") {
		return ""
	}
	joined := path.Join(path.Dir(fromImportPath), spec)
	return ImportPath(joined)
}

// moduleCandidates lists the files a module specifier can refer to.
func moduleCandidates(importPath string, extensions []string) []string {
	out := []string{importPath}
	for _, ext := range extensions {
		out = append(out, importPath+ext)
	}
	for _, ext := range extensions {
		out = append(out, importPath+"/index"+ext)
	}
	return out
}

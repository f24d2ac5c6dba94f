// Package index builds the project-wide story index from story and docs files.
package index

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SchemaVersion is the "v" field written to index.json.
const SchemaVersion = 5

type EntryType string

const (
	TypeStory EntryType = "story"
	TypeDocs  EntryType = "docs"
)

// Tags added by the indexer.
const (
	TagAutodocs      = "autodocs"
	TagAttachedMDX   = "attached-mdx"
	TagUnattachedMDX = "unattached-mdx"
	TagPlayFn        = "play-fn"
)

// Entry is one addressable story or docs page.
type Entry struct {
	Type           EntryType      `json:"type"`
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Title          string         `json:"title"`
	ImportPath     string         `json:"importPath"`
	ComponentPath  string         `json:"componentPath,omitempty"`
	Tags           []string       `json:"tags"`
	ExportName     string         `json:"exportName,omitempty"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	StoriesImports []string       `json:"storiesImports,omitempty"`
	Standalone     *bool          `json:"standalone,omitempty"`
}

// IsStandalone reports whether a docs entry is an unattached MDX page.
// Entries without the field are not standalone.
func (e *Entry) IsStandalone() bool {
	return e.Standalone != nil && *e.Standalone
}

func (e *Entry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// StoryIndex is the ordered index. Entry order is the navigation order and is
// kept when the index is written as a JSON object.
type StoryIndex struct {
	V       int
	Entries []*Entry

	// Generation is the generator version the index was built at.
	Generation uint64
}

func NewStoryIndex(entries []*Entry) *StoryIndex {
	return &StoryIndex{V: SchemaVersion, Entries: entries}
}

// Get returns the entry with id, or nil.
func (idx *StoryIndex) Get(id string) *Entry {
	if idx == nil {
		return nil
	}
	for _, e := range idx.Entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (idx *StoryIndex) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `{"v":%d,"entries":{`, idx.V)
	for i, e := range idx.Entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.ID)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal entry %s: %w", e.ID, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

func (idx *StoryIndex) UnmarshalJSON(data []byte) error {
	var raw struct {
		V       int             `json:"v"`
		Entries json.RawMessage `json:"entries"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	idx.V = raw.V
	idx.Entries = nil
	if len(raw.Entries) == 0 || string(raw.Entries) == "null" {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw.Entries))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("entries must be an object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		id, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected entries key %v", tok)
		}
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return fmt.Errorf("decode entry %s: %w", id, err)
		}
		if e.ID == "" {
			e.ID = id
		}
		idx.Entries = append(idx.Entries, &e)
	}
	_, err = dec.Token()
	return err
}

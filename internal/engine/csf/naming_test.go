package csf

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"Example/Button":            "example-button",
		"  Some  Thing  ":           "some-thing",
		"Design System/Forms:Input": "design-system-forms-input",
		"a__b..c":                   "a-b-c",
		"Ünïcode":                   "ünïcode",
	}
	for in, want := range cases {
		assert.Equal(t, want, Sanitize(in), in)
	}
}

func TestToID(t *testing.T) {
	id, err := ToID("Example/Button", "Primary")
	require.NoError(t, err)
	assert.Equal(t, "example-button--primary", id)

	id, err = ToID("Example/Button", "")
	require.NoError(t, err)
	assert.Equal(t, "example-button", id)

	_, err = ToID("!!!", "Primary")
	assert.Error(t, err)

	_, err = ToID("Example", "???")
	assert.Error(t, err)
}

func TestStoryNameFromExport(t *testing.T) {
	cases := map[string]string{
		"Primary":          "Primary",
		"primaryButton":    "Primary Button",
		"Story1":           "Story 1",
		"XMLHttpRequest":   "XML Http Request",
		"with_underscores": "With Underscores",
		"ALLCAPS":          "ALLCAPS",
	}
	for in, want := range cases {
		assert.Equal(t, want, StoryNameFromExport(in), in)
	}
}

func TestAutoTitle(t *testing.T) {
	cases := []struct {
		file, dir, prefix, want string
	}{
		{"./src/components/Button.stories.tsx", "./src", "", "components/Button"},
		{"./src/components/Button.stories.tsx", "./src", "Lib", "Lib/components/Button"},
		{"./src/Button/Button.story.js", "./src", "", "Button/Button"},
		{"src/Intro.mdx", "src", "", "Intro"},
		{"./other/Thing.stories.ts", "./src", "", "other/Thing"},
		{"src\\win\\Path.stories.ts", "src", "", "win/Path"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, AutoTitle(tc.file, tc.dir, tc.prefix), tc.file)
	}
}

// A title is always the prefix followed by the file's path below the
// specifier directory, without extension or stories suffix.
func TestAutoTitleKeepsEveryPathSegment(t *testing.T) {
	segments := [][]string{
		{"a"},
		{"a", "b"},
		{"Button", "Button"},
		{"forms", "inputs", "Text"},
	}
	re := regexp.MustCompile(`\.stories$`)
	for _, segs := range segments {
		rel := ""
		for i, s := range segs {
			if i > 0 {
				rel += "/"
			}
			rel += s
		}
		file := "./src/" + rel + ".stories.tsx"
		got := AutoTitle(file, "./src", "Prefix")
		assert.Equal(t, "Prefix/"+re.ReplaceAllString(rel, ""), got)
	}
}

func TestUserOrAutoTitle(t *testing.T) {
	assert.Equal(t, "Lib/Custom", UserOrAutoTitle("./src/X.stories.ts", "./src", "Lib", "Custom"))
	assert.Equal(t, "Custom", UserOrAutoTitle("./src/X.stories.ts", "./src", "", "Custom"))
	assert.Equal(t, "Lib/X", UserOrAutoTitle("./src/X.stories.ts", "./src", "Lib/", ""))
}

func TestCombineTags(t *testing.T) {
	assert.Equal(t, []string{"dev", "test", "autodocs"},
		CombineTags(DefaultTags, []string{"autodocs"}))
	assert.Equal(t, []string{"dev", "autodocs"},
		CombineTags(DefaultTags, []string{"autodocs"}, []string{"!test"}))
	assert.Equal(t, []string{"dev", "test"},
		CombineTags(DefaultTags, []string{"dev"}, nil))
	assert.Equal(t, []string{}, CombineTags())
	assert.Equal(t, []string{"b", "c"}, CombineTags([]string{"a", "b"}, []string{"!a", "c", "!missing"}))
}

func TestIsExportStory(t *testing.T) {
	include := &ExportFilter{Names: []string{"A", "B"}}
	exclude := &ExportFilter{Pattern: regexp.MustCompile(`^B$`)}

	assert.True(t, IsExportStory("A", include, exclude))
	assert.False(t, IsExportStory("B", include, exclude))
	assert.False(t, IsExportStory("C", include, exclude))
	assert.True(t, IsExportStory("C", nil, nil))
	assert.False(t, IsExportStory("__esModule", nil, nil))
}

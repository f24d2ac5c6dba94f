package csf

import (
	"testing"

	"storyindex/internal/core/errors"
	"storyindex/internal/engine/parser"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func extractSource(t *testing.T, path, src string, opts Options) (*StoryFile, error) {
	t.Helper()
	p, err := parser.NewDefaultParser()
	require.NoError(t, err)
	file, err := p.Parse(path, []byte(src))
	require.NoError(t, err)
	defer file.Close()
	return Extract(file, opts)
}

func exportNames(stories []*Story) []string {
	out := make([]string, 0, len(stories))
	for _, s := range stories {
		out = append(out, s.ExportName)
	}
	return out
}

func TestExtract_CSF3TypeScript(t *testing.T) {
	src := `
import type { Meta, StoryObj } from '@storybook/react';
import { expect } from '@storybook/test';
import { Button } from './Button';

const meta = {
  title: 'Example/Button',
  component: Button,
  tags: ['autodocs'],
  parameters: { layout: 'centered', backgrounds: { values: ['#fff'] } },
  argTypes: { backgroundColor: { control: 'color' } },
  args: { onClick: fn() },
} satisfies Meta<typeof Button>;

export default meta;
type Story = StoryObj<typeof meta>;

export const Primary: Story = {
  args: { primary: true, label: 'Button', size: -1 },
};

export const Secondary: Story = {
  name: 'Second one',
  tags: ['!test'],
  play: async ({ canvasElement }) => {
    await expect(canvasElement).toBeTruthy();
  },
};

export const LargeButton: Story = {
  parameters: { docs: { disable: true } },
  async play() {},
};
`
	file, err := extractSource(t, "./src/Button.stories.ts", src, Options{})
	require.NoError(t, err)

	assert.Equal(t, MetaObjectLiteral, file.MetaShape)
	assert.Equal(t, "Example/Button", file.Meta.Title)
	assert.True(t, file.Meta.TitleExplicit)
	assert.Equal(t, "Button", file.Meta.Component)
	assert.Equal(t, "./Button", file.Meta.ComponentPath)
	assert.Equal(t, []string{"autodocs"}, file.Meta.Tags)
	assert.Equal(t, "centered", file.Meta.Parameters["layout"])
	assert.Equal(t, parser.ExprRef{Source: "fn()"}, file.Meta.Args["onClick"])

	require.Equal(t, []string{"Primary", "Secondary", "LargeButton"}, exportNames(file.Stories))

	primary := file.Story("Primary")
	assert.Equal(t, "example-button--primary", primary.ID)
	assert.Equal(t, "Primary", primary.Name)
	assert.Equal(t, map[string]any{"primary": true, "label": "Button", "size": -1.0}, primary.Args)
	assert.False(t, primary.HasPlayFunction)

	secondary := file.Story("Secondary")
	assert.Equal(t, "Second one", secondary.Name)
	assert.Equal(t, "example-button--secondary", secondary.ID)
	assert.Equal(t, []string{"!test"}, secondary.Tags)
	assert.True(t, secondary.HasPlayFunction)

	large := file.Story("LargeButton")
	assert.Equal(t, "Large Button", large.Name)
	assert.Equal(t, "example-button--large-button", large.ID)
	assert.True(t, large.HasPlayFunction)
	assert.Equal(t, map[string]any{"docs": map[string]any{"disable": true}}, large.Parameters)
}

func TestExtract_MissingDefaultExport(t *testing.T) {
	_, err := extractSource(t, "./A.stories.js", "export const A = {};\n", Options{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeCSFParse))
	assert.Contains(t, err.Error(), "missing default export")
}

func TestExtract_DynamicDefaultExport(t *testing.T) {
	src := "export default makeMeta({ title: 'A' });\nexport const A = {};\n"
	_, err := extractSource(t, "./A.stories.js", src, Options{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeCSFParse))
	assert.Contains(t, err.Error(), "call_expression")
}

func TestExtract_DefaultExportViaSpecifier(t *testing.T) {
	src := "const meta = { title: 'Via/Specifier' };\nconst A = {};\nexport { meta as default, A as Renamed };\n"
	file, err := extractSource(t, "./A.stories.js", src, Options{})
	require.NoError(t, err)
	assert.Equal(t, "Via/Specifier", file.Meta.Title)
	require.Equal(t, []string{"Renamed"}, exportNames(file.Stories))
	assert.Equal(t, "via-specifier--renamed", file.Stories[0].ID)
}

func TestExtract_ReservedExport(t *testing.T) {
	src := "export default { title: 'A' };\nexport const __esModule = true;\n"
	_, err := extractSource(t, "./A.stories.js", src, Options{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeCSFParse))
	assert.Contains(t, err.Error(), "reserved")
}

func TestExtract_DynamicTitle(t *testing.T) {
	src := "export default { title: `Example/${name}` };\nexport const A = {};\n"
	_, err := extractSource(t, "./A.stories.js", src, Options{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeCSFParse))
}

func TestExtract_CSF2Assignments(t *testing.T) {
	src := `
export default { title: 'Legacy/Card', decorators: [withTheme, (Story) => Story()] };

const Template = (args) => <Card {...args} />;

export const Basic = Template.bind({});
Basic.args = { title: 'hello' };
Basic.storyName = 'The Basic Card';
Basic.play = async () => {};

export function WithFooter() { return null; }
WithFooter.parameters = { footer: true };
`
	file, err := extractSource(t, "./Card.stories.jsx", src, Options{})
	require.NoError(t, err)
	require.Len(t, file.Meta.Decorators, 2)
	assert.Equal(t, parser.ExprRef{Source: "withTheme"}, file.Meta.Decorators[0])
	assert.IsType(t, parser.FunctionRef{}, file.Meta.Decorators[1])

	basic := file.Story("Basic")
	require.NotNil(t, basic)
	assert.Equal(t, "The Basic Card", basic.Name)
	assert.Equal(t, map[string]any{"title": "hello"}, basic.Args)
	assert.True(t, basic.HasPlayFunction)
	assert.True(t, basic.HasRender)
	assert.Equal(t, "legacy-card--basic", basic.ID)

	footer := file.Story("WithFooter")
	require.NotNil(t, footer)
	assert.Equal(t, map[string]any{"footer": true}, footer.Parameters)
	assert.Equal(t, "With Footer", footer.Name)
}

func TestExtract_IncludeExcludeMarksTemplates(t *testing.T) {
	src := `
export default { title: 'Filters', excludeStories: /.*Data$/, includeStories: ['A', 'B', 'mockData'] };
export const A = {};
export const B = {};
export const C = {};
export const mockData = {};
`
	file, err := extractSource(t, "./F.stories.ts", src, Options{})
	require.NoError(t, err)

	templates := map[string]bool{}
	for _, s := range file.Stories {
		templates[s.ExportName] = s.Template
	}
	assert.Equal(t, map[string]bool{"A": false, "B": false, "C": true, "mockData": true}, templates)
	assert.Equal(t, []string{"A", "B"}, exportNames(file.IndexableStories()))
}

func TestExtract_NamedExportsOrder(t *testing.T) {
	src := `
export default { title: 'Ordered' };
export const First = {};
export const Second = {};
export const Helper = {};
export const __namedExportsOrder = ['Second', 'First'];
`
	file, err := extractSource(t, "./O.stories.ts", src, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Second", "First", "Helper"}, exportNames(file.Stories))
	assert.True(t, file.Story("Helper").Template)
	assert.Equal(t, []string{"Second", "First"}, exportNames(file.IndexableStories()))
}

func TestExtract_SkipsTypeExports(t *testing.T) {
	src := `
export default { title: 'Types' } as Meta;
export type Story = StoryObj<typeof Button>;
export interface Props { a: string }
export const Real: Story = {};
`
	file, err := extractSource(t, "./T.stories.ts", src, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Real"}, exportNames(file.Stories))
}

func TestExtract_AutoTitleViaOptions(t *testing.T) {
	src := "export default { component: Button };\nexport const Primary = {};\n"
	opts := Options{MakeTitle: func(userTitle string) string {
		return UserOrAutoTitle("./src/components/Button/Button.stories.tsx", "./src", "Design System", userTitle)
	}}
	file, err := extractSource(t, "./src/components/Button/Button.stories.tsx", src, opts)
	require.NoError(t, err)
	assert.False(t, file.Meta.TitleExplicit)
	assert.Equal(t, "Design System/components/Button/Button", file.Meta.Title)
	assert.Equal(t, "design-system-components-button-button--primary", file.Stories[0].ID)
}

func TestExtract_MetaPlayAppliesToStories(t *testing.T) {
	src := "export default { title: 'P', play: async () => {} };\nexport const A = {};\n"
	file, err := extractSource(t, "./P.stories.js", src, Options{})
	require.NoError(t, err)
	assert.True(t, file.Meta.HasPlay)
	assert.True(t, file.Story("A").HasPlayFunction)
}

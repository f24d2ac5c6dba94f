package channel

// Events exchanged between the manager and the preview.
const (
	SetGlobals       = "set-globals"
	UpdateGlobals    = "update-globals"
	GlobalsUpdated   = "globals-updated"
	StoryChanged     = "story-changed"
	SetCurrentStory  = "set-current-story"
	UpdateStoryArgs  = "update-story-args"
	ResetStoryArgs   = "reset-story-args"
	StoryArgsUpdated = "story-args-updated"
	ForceReRender    = "force-re-render"
	PreviewKeydown   = "preview-keydown"
	SnippetRendered  = "snippet-rendered"
	Highlight        = "highlight"
	ResetHighlight   = "reset-highlight"

	StoryPrepared         = "story-prepared"
	StoryRendered         = "story-rendered"
	StoryErrored          = "story-errored"
	StoryMissing          = "story-missing"
	StoryIndexInvalidated = "story-index-invalidated"
)

package errors

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeValidationError ErrorCode = "VALIDATION_ERROR"
	CodeInternal        ErrorCode = "INTERNAL_ERROR"
	CodeNotSupported    ErrorCode = "NOT_SUPPORTED"

	CodeParse                ErrorCode = "PARSE_ERROR"
	CodeCSFParse             ErrorCode = "CSF_PARSE_ERROR"
	CodeUnsupportedStorySort ErrorCode = "UNSUPPORTED_STORY_SORT"
	CodeUnknownNodeType      ErrorCode = "UNKNOWN_NODE_TYPE"
	CodeDuplicateIndexEntry  ErrorCode = "DUPLICATE_INDEX_ENTRY"
	CodeLoader               ErrorCode = "LOADER_ERROR"
	CodeDecorator            ErrorCode = "DECORATOR_ERROR"
	CodeRender               ErrorCode = "RENDER_ERROR"
	CodeChannelProtocol      ErrorCode = "CHANNEL_PROTOCOL"
)

type DomainError struct {
	Code    ErrorCode
	Message string
	Err     error
	Context map[string]interface{}
}

const (
	CtxPath      = "path"
	CtxLine      = "line"
	CtxOperation = "operation"
	CtxStoryID   = "story_id"
	CtxPhase     = "phase"
	CtxFirst     = "first"
	CtxSecond    = "second"
	CtxNodeType  = "node_type"
)

func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Context) > 0 {
		msg += fmt.Sprintf(" %v", e.Context)
	}
	return msg
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// ContextString returns the string stored under key, or "".
func (e *DomainError) ContextString(key string) string {
	if e == nil || e.Context == nil {
		return ""
	}
	s, _ := e.Context[key].(string)
	return s
}

func New(code ErrorCode, msg string) error {
	return &DomainError{Code: code, Message: msg}
}

func Wrap(err error, code ErrorCode, msg string) error {
	return &DomainError{Code: code, Message: msg, Err: err}
}

// AddContext attaches key/value to err, wrapping non-domain errors as internal.
func AddContext(err error, key string, value interface{}) error {
	var de *DomainError
	if errors.As(err, &de) {
		de.WithContext(key, value)
		return de
	}
	return &DomainError{
		Code:    CodeInternal,
		Message: "wrapped error",
		Err:     err,
		Context: map[string]interface{}{key: value},
	}
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// As is errors.As specialised to *DomainError.
func As(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// NewParseError reports malformed source. Line is 1-based.
func NewParseError(file string, line int, msg string) *DomainError {
	e := &DomainError{Code: CodeParse, Message: fmt.Sprintf("%s:%d: %s", file, line, msg)}
	return e.WithContext(CtxPath, file).WithContext(CtxLine, line)
}

// NewCSFParseError reports a story file whose shape is recognised but unsupported.
func NewCSFParseError(file string, msg string) *DomainError {
	e := &DomainError{Code: CodeCSFParse, Message: fmt.Sprintf("CSF: %s", msg)}
	return e.WithContext(CtxPath, file)
}

func NewUnsupportedStorySort(msg string) *DomainError {
	return &DomainError{Code: CodeUnsupportedStorySort, Message: msg}
}

func NewUnknownNodeType(nodeType string) *DomainError {
	e := &DomainError{Code: CodeUnknownNodeType, Message: fmt.Sprintf("unknown node type %q", nodeType)}
	return e.WithContext(CtxNodeType, nodeType)
}

// NewDuplicateIndexEntry names both files that claimed id.
func NewDuplicateIndexEntry(id, first, second string) *DomainError {
	e := &DomainError{
		Code:    CodeDuplicateIndexEntry,
		Message: fmt.Sprintf("duplicate index entry %q in %s and %s", id, first, second),
	}
	return e.WithContext(CtxFirst, first).WithContext(CtxSecond, second)
}

func NewChannelProtocolWarning(msg string) *DomainError {
	return &DomainError{Code: CodeChannelProtocol, Message: msg}
}

// NewStoryPhaseError scopes a loader, decorator or render failure to one story.
func NewStoryPhaseError(code ErrorCode, storyID, phase string, err error) *DomainError {
	e := &DomainError{Code: code, Message: fmt.Sprintf("%s failed for story %q", phase, storyID), Err: err}
	return e.WithContext(CtxStoryID, storyID).WithContext(CtxPhase, phase)
}

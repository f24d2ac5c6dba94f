package storysort

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"storyindex/internal/core/errors"

	"github.com/dop251/goja"
	"github.com/evanw/esbuild/pkg/api"
)

// DefaultTimeout bounds a single comparator call.
var DefaultTimeout = time.Second

const comparatorGlobal = "__storySort"

// functionComparator runs a user comparator in its own goja runtime. The
// runtime only ever sees the comparator source: no module loader, no console
// and no host objects are installed.
type functionComparator struct {
	mu      sync.Mutex
	vm      *goja.Runtime
	fn      goja.Callable
	timeout time.Duration
	err     error
}

// StripTypes removes TypeScript syntax from a standalone snippet.
func StripTypes(code string) (string, error) {
	result := api.Transform(code, api.TransformOptions{
		Loader:   api.LoaderTS,
		Target:   api.ES2015,
		LogLevel: api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		var msg strings.Builder
		for _, e := range result.Errors {
			if e.Location != nil {
				fmt.Fprintf(&msg, "%d:%d: ", e.Location.Line, e.Location.Column)
			}
			msg.WriteString(e.Text)
			msg.WriteString("\n")
		}
		return "", fmt.Errorf("esbuild errors:\n%s", msg.String())
	}
	return string(result.Code), nil
}

func compileFunction(source string, timeout time.Duration) (*functionComparator, error) {
	if strings.TrimSpace(source) == "" {
		return nil, errors.NewUnsupportedStorySort("empty storySort function")
	}
	code, err := StripTypes(fmt.Sprintf("var %s = (%s);\n", comparatorGlobal, source))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnsupportedStorySort, "storySort function does not compile")
	}

	vm := goja.New()
	if _, err := vm.RunString(code); err != nil {
		return nil, errors.Wrap(err, errors.CodeUnsupportedStorySort, "storySort function does not evaluate")
	}
	fn, ok := goja.AssertFunction(vm.Get(comparatorGlobal))
	if !ok {
		return nil, errors.NewUnsupportedStorySort("storySort is not callable")
	}
	return &functionComparator{vm: vm, fn: fn, timeout: timeout}, nil
}

func (c *functionComparator) entryValue(e Entry) goja.Value {
	obj := c.vm.NewObject()
	_ = obj.Set("id", e.ID)
	_ = obj.Set("title", e.Title)
	_ = obj.Set("name", e.Name)
	_ = obj.Set("importPath", e.ImportPath)
	_ = obj.Set("type", e.Type)
	tags := make([]any, 0, len(e.Tags))
	for _, t := range e.Tags {
		tags = append(tags, t)
	}
	_ = obj.Set("tags", c.vm.NewArray(tags...))
	return obj
}

// call invokes the comparator. The first failure sticks and every later
// call returns 0, so a sort still terminates.
func (c *functionComparator) call(a, b Entry) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}

	if c.timeout > 0 {
		defer interruptAfter(c.vm, c.timeout)()
	}

	res, err := c.fn(goja.Undefined(), c.entryValue(a), c.entryValue(b))
	if err != nil {
		c.err = errors.Wrap(err, errors.CodeUnsupportedStorySort, "storySort function failed")
		return 0, c.err
	}
	f := res.ToFloat()
	switch {
	case math.IsNaN(f), f == 0:
		return 0, nil
	case f < 0:
		return -1, nil
	}
	return 1, nil
}

// interruptAfter interrupts vm once d elapses. The returned stop func clears
// the interrupt and waits for a timer that already fired, so a late
// interrupt never reaches the next call.
func interruptAfter(vm *goja.Runtime, d time.Duration) func() {
	fired := make(chan struct{})
	timer := time.AfterFunc(d, func() {
		vm.Interrupt("storySort timed out")
		close(fired)
	})
	return func() {
		if !timer.Stop() {
			<-fired
		}
		vm.ClearInterrupt()
	}
}

func (c *functionComparator) compare(a, b Entry) int {
	n, _ := c.call(a, b)
	return n
}

func (c *functionComparator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

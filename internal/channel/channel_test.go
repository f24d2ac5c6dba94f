package channel

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) listen(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.Type)
	}
	return out
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func memoryChannels(t *testing.T) (*Channel, *Channel) {
	t.Helper()
	a, b := NewMemoryPair()
	manager := New(a, WithID("manager"))
	preview := New(b, WithID("preview"))
	t.Cleanup(func() {
		_ = manager.Close()
		_ = preview.Close()
	})
	return manager, preview
}

func TestChannel_DeliversInOrder(t *testing.T) {
	manager, preview := memoryChannels(t)
	rec := &recorder{}
	preview.On(SetCurrentStory, rec.listen)
	preview.On(UpdateStoryArgs, rec.listen)

	require.NoError(t, manager.Emit(SetCurrentStory, map[string]any{"storyId": "a--b"}))
	require.NoError(t, manager.Emit(UpdateStoryArgs, map[string]any{"storyId": "a--b", "updatedArgs": map[string]any{"x": 1}}))

	require.Eventually(t, func() bool { return rec.len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{SetCurrentStory, UpdateStoryArgs}, rec.types())
	assert.Equal(t, "manager", rec.msgs[0].From)

	args, ok := preview.Last(SetCurrentStory)
	require.True(t, ok)
	assert.Equal(t, []any{map[string]any{"storyId": "a--b"}}, args)
}

func TestChannel_EmitDoesNotReachLocalListeners(t *testing.T) {
	manager, preview := memoryChannels(t)
	local := &recorder{}
	manager.On(StoryChanged, local.listen)
	remote := &recorder{}
	preview.On(StoryChanged, remote.listen)

	require.NoError(t, manager.Emit(StoryChanged, "a--b"))
	require.Eventually(t, func() bool { return remote.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, local.len())
}

func TestChannel_IgnoresOwnMessages(t *testing.T) {
	a, _ := NewMemoryPair()
	c := New(a, WithID("self"))
	defer c.Close()
	rec := &recorder{}
	c.On(StoryChanged, rec.listen)

	c.receive(Message{Type: StoryChanged, From: "self"})
	c.receive(Message{Type: StoryChanged, From: "other"})
	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "other", rec.msgs[0].From)
}

func TestChannel_OffAndOnce(t *testing.T) {
	manager, preview := memoryChannels(t)
	first, second, once := &recorder{}, &recorder{}, &recorder{}
	off := preview.On(ForceReRender, first.listen)
	preview.On(ForceReRender, second.listen)
	preview.Once(ForceReRender, once.listen)

	require.NoError(t, manager.Emit(ForceReRender))
	require.Eventually(t, func() bool { return second.len() == 1 }, time.Second, 5*time.Millisecond)
	off()
	require.NoError(t, manager.Emit(ForceReRender))
	require.Eventually(t, func() bool { return second.len() == 2 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, first.len())
	assert.Equal(t, 1, once.len())

	preview.Off(ForceReRender)
	require.NoError(t, manager.Emit(ForceReRender))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, second.len())
}

func TestChannel_ListenerPanicDoesNotStopDispatch(t *testing.T) {
	manager, preview := memoryChannels(t)
	rec := &recorder{}
	preview.On(Highlight, func(Message) { panic("listener bug") })
	preview.On(ResetHighlight, rec.listen)

	require.NoError(t, manager.Emit(Highlight))
	require.NoError(t, manager.Emit(ResetHighlight))
	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestMessage_Decode(t *testing.T) {
	msg := Message{Type: UpdateStoryArgs, Args: []any{map[string]any{"storyId": "a--b", "updatedArgs": map[string]any{"n": 2.0}}}}
	var payload struct {
		StoryID     string         `json:"storyId"`
		UpdatedArgs map[string]any `json:"updatedArgs"`
	}
	require.NoError(t, msg.Decode(0, &payload))
	assert.Equal(t, "a--b", payload.StoryID)
	assert.Equal(t, 2.0, payload.UpdatedArgs["n"])

	assert.Error(t, msg.Decode(1, &payload))
}

func TestMemoryTransport_Closed(t *testing.T) {
	a, _ := NewMemoryPair()
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Send(Message{Type: StoryChanged}), ErrClosed)
}

func startHub(t *testing.T, rate float64, burst int) (*Hub, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(rate, burst)
	go hub.Run(ctx)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialChannel(t *testing.T, url, id string) *Channel {
	t.Helper()
	tr, err := Dial(context.Background(), url)
	require.NoError(t, err)
	c := New(tr, WithID(id))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestHub_RelaysBetweenClients(t *testing.T) {
	hub, url := startHub(t, 100, 100)
	manager := dialChannel(t, url, "manager")
	preview := dialChannel(t, url, "preview")
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, time.Second, 5*time.Millisecond)

	fromManager, fromPreview := &recorder{}, &recorder{}
	preview.On(SetCurrentStory, fromManager.listen)
	manager.On(StoryRendered, fromPreview.listen)
	echo := &recorder{}
	manager.On(SetCurrentStory, echo.listen)

	require.NoError(t, manager.Emit(SetCurrentStory, map[string]any{"storyId": "a--b"}))
	require.NoError(t, preview.Emit(StoryRendered, "a--b"))

	require.Eventually(t, func() bool { return fromManager.len() == 1 && fromPreview.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "manager", fromManager.msgs[0].From)
	assert.Equal(t, []any{"a--b"}, fromPreview.msgs[0].Args)
	assert.Equal(t, 0, echo.len())

	invalidated := &recorder{}
	manager.On(StoryIndexInvalidated, invalidated.listen)
	require.NoError(t, hub.Broadcast(StoryIndexInvalidated))
	require.Eventually(t, func() bool { return invalidated.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, HubSender, invalidated.msgs[0].From)
}

func TestHub_RateLimitsInbound(t *testing.T) {
	hub, url := startHub(t, 0.001, 2)
	sender := dialChannel(t, url, "sender")
	receiver := dialChannel(t, url, "receiver")
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, time.Second, 5*time.Millisecond)

	rec := &recorder{}
	receiver.On(PreviewKeydown, rec.listen)
	for i := 0; i < 5; i++ {
		require.NoError(t, sender.Emit(PreviewKeydown, i))
	}
	require.Eventually(t, func() bool { return rec.len() == 2 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, rec.len())
}

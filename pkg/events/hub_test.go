package events

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arkived/pkg/archive"
)

type fakeSender struct {
	mu       sync.Mutex
	messages []*Message
	failNext bool
}

func (f *fakeSender) Send(msg *Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		return errors.New("broken pipe")
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeSender) received() []*Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Message, len(f.messages))
	copy(out, f.messages)
	return out
}

func (f *fakeSender) lastOfType(msgType string) *Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.messages) - 1; i >= 0; i-- {
		if f.messages[i].Type == msgType {
			return f.messages[i]
		}
	}
	return nil
}

func TestConnectDeliversHandshake(t *testing.T) {
	h := NewHub(nil)
	s := &fakeSender{}

	id, err := h.Connect(s, "test")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := s.received()
	require.Len(t, msgs, 1)
	assert.Equal(t, "connected", msgs[0].Type)
	assert.Equal(t, id, msgs[0].Data["connection_id"])
	assert.NotEmpty(t, msgs[0].Data["server_time"])
}

func TestSubscribeAndPublish(t *testing.T) {
	h := NewHub(nil)
	s := &fakeSender{}
	id, err := h.Connect(s, "test")
	require.NoError(t, err)

	require.NoError(t, h.Subscribe(id, []string{"files.*"}))
	assert.NotNil(t, s.lastOfType("subscribed"))

	h.Publish("files.uploaded", map[string]any{"file_id": "abc"})
	h.Publish("jobs.completed", map[string]any{"job": "backup"})

	events := collectEvents(s)
	require.Len(t, events, 1, "files.* must match files.uploaded but not jobs.completed")
	assert.Equal(t, "files.uploaded", events[0].Data["topic"])
}

func TestPublishBeforeSubscribeDeliversNothing(t *testing.T) {
	h := NewHub(nil)
	s := &fakeSender{}
	_, err := h.Connect(s, "test")
	require.NoError(t, err)

	h.Publish("files.uploaded", nil)
	assert.Empty(t, collectEvents(s))
}

func TestSubscribeExactTopic(t *testing.T) {
	h := NewHub(nil)
	s := &fakeSender{}
	id, err := h.Connect(s, "test")
	require.NoError(t, err)

	require.NoError(t, h.Subscribe(id, []string{"files.deleted"}))

	h.Publish("files.deleted", nil)
	h.Publish("files.uploaded", nil)

	events := collectEvents(s)
	require.Len(t, events, 1)
	assert.Equal(t, "files.deleted", events[0].Data["topic"])
}

func TestSubscribeRejectsWholeRequestOnInvalidTopic(t *testing.T) {
	h := NewHub(nil)
	s := &fakeSender{}
	id, err := h.Connect(s, "test")
	require.NoError(t, err)

	err = h.Subscribe(id, []string{"files.*", "secrets.*"})
	require.Error(t, err)
	assert.True(t, archive.IsValidation(err))
	assert.NotNil(t, s.lastOfType("error"))

	// The valid half of the request must not have taken effect.
	h.Publish("files.uploaded", nil)
	assert.Empty(t, collectEvents(s))
}

func TestSubscribeReplacesExistingSet(t *testing.T) {
	h := NewHub(nil)
	s := &fakeSender{}
	id, err := h.Connect(s, "test")
	require.NoError(t, err)

	require.NoError(t, h.Subscribe(id, []string{"files.*"}))
	require.NoError(t, h.Subscribe(id, []string{"jobs.*"}))

	h.Publish("files.uploaded", nil)
	h.Publish("jobs.completed", nil)

	events := collectEvents(s)
	require.Len(t, events, 1)
	assert.Equal(t, "jobs.completed", events[0].Data["topic"])
}

func TestFailedSubscribeKeepsOldSet(t *testing.T) {
	h := NewHub(nil)
	s := &fakeSender{}
	id, err := h.Connect(s, "test")
	require.NoError(t, err)

	require.NoError(t, h.Subscribe(id, []string{"files.*"}))
	require.Error(t, h.Subscribe(id, []string{"nope.*"}))

	h.Publish("files.uploaded", nil)
	assert.Len(t, collectEvents(s), 1)
}

func TestUnsubscribe(t *testing.T) {
	h := NewHub(nil)
	s := &fakeSender{}
	id, err := h.Connect(s, "test")
	require.NoError(t, err)

	require.NoError(t, h.Subscribe(id, []string{"files.*", "jobs.*"}))
	require.NoError(t, h.Unsubscribe(id, []string{"files.*"}))

	h.Publish("files.uploaded", nil)
	h.Publish("jobs.completed", nil)

	events := collectEvents(s)
	require.Len(t, events, 1)
	assert.Equal(t, "jobs.completed", events[0].Data["topic"])
}

func TestUnsubscribeAllWhenNoTopicsGiven(t *testing.T) {
	h := NewHub(nil)
	s := &fakeSender{}
	id, err := h.Connect(s, "test")
	require.NoError(t, err)

	require.NoError(t, h.Subscribe(id, []string{"files.*", "jobs.*"}))
	require.NoError(t, h.Unsubscribe(id, nil))

	h.Publish("files.uploaded", nil)
	h.Publish("jobs.completed", nil)
	assert.Empty(t, collectEvents(s))
}

func TestFailedDeliveryDropsOnlyThatConnection(t *testing.T) {
	h := NewHub(nil)

	healthy := &fakeSender{}
	healthyID, err := h.Connect(healthy, "test")
	require.NoError(t, err)
	require.NoError(t, h.Subscribe(healthyID, []string{"files.*"}))

	broken := &fakeSender{}
	brokenID, err := h.Connect(broken, "test")
	require.NoError(t, err)
	require.NoError(t, h.Subscribe(brokenID, []string{"files.*"}))
	broken.failNext = true

	h.Publish("files.uploaded", nil)

	assert.Len(t, collectEvents(healthy), 1)

	st := h.Stats()
	assert.Equal(t, int64(1), st.Errors)
	assert.Equal(t, 1, st.ActiveConnections)
}

func TestDisconnectReleasesSubscriptions(t *testing.T) {
	h := NewHub(nil)
	s := &fakeSender{}
	id, err := h.Connect(s, "test")
	require.NoError(t, err)
	require.NoError(t, h.Subscribe(id, []string{"files.*"}))

	h.Disconnect(id)
	h.Publish("files.uploaded", nil)
	assert.Empty(t, collectEvents(s))

	err = h.Subscribe(id, []string{"files.*"})
	assert.ErrorIs(t, err, archive.ErrNotFound)
}

func TestStatsCounters(t *testing.T) {
	h := NewHub(nil)
	s := &fakeSender{}
	id, err := h.Connect(s, "browser")
	require.NoError(t, err)
	require.NoError(t, h.Subscribe(id, []string{"files.*"}))

	h.Publish("files.uploaded", nil)
	h.Publish("files.uploaded", nil)
	h.Publish("jobs.completed", nil)
	h.RecordReceived()

	st := h.Stats()
	assert.Equal(t, int64(1), st.TotalConnections)
	assert.Equal(t, 1, st.ActiveConnections)
	// Handshake + subscribed confirmation + two matched events.
	assert.Equal(t, int64(4), st.MessagesSent)
	assert.Equal(t, int64(1), st.MessagesReceived)
	assert.Equal(t, int64(2), st.ByTopic["files.uploaded"])
	assert.Equal(t, int64(1), st.ByTopic["jobs.completed"])
	assert.Equal(t, int64(1), st.ByOrigin["browser"])
}

func collectEvents(s *fakeSender) []*Message {
	var events []*Message
	for _, msg := range s.received() {
		if msg.Type == "event" {
			events = append(events, msg)
		}
	}
	return events
}

package ws

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingSubscriber struct {
	mu       sync.Mutex
	payloads [][]byte
	fail     bool
	closed   bool
}

func (r *recordingSubscriber) Send(p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("broken pipe")
	}
	r.payloads = append(r.payloads, p)
	return nil
}

func (r *recordingSubscriber) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func TestHubBroadcastsPerProject(t *testing.T) {
	hub := NewHub()
	a := &recordingSubscriber{}
	b := &recordingSubscriber{}
	hub.Register("p1", a)
	hub.Register("p2", b)

	hub.Broadcast("p1", []byte("Building..."))

	assert.Len(t, a.payloads, 1)
	assert.Empty(t, b.payloads)
}

func TestHubDropsFailingSubscribers(t *testing.T) {
	hub := NewHub()
	healthy := &recordingSubscriber{}
	broken := &recordingSubscriber{fail: true}
	hub.Register("p1", healthy)
	hub.Register("p1", broken)

	hub.Broadcast("p1", []byte("x"))

	assert.True(t, broken.closed)
	assert.Equal(t, 1, hub.Subscribers("p1"))

	hub.Unregister("p1", healthy)
	assert.Equal(t, 0, hub.Subscribers("p1"))
}

package notifier

import (
	"fmt"
	"sync"
	"testing"

	"github.com/cuongbtq/vidshare/internal/domain"
	"github.com/cuongbtq/vidshare/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []string
	full   bool
	closed bool
}

func (f *fakeConn) Send(frame []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full || f.closed {
		return false
	}
	f.frames = append(f.frames, string(frame))
	return true
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.frames...)
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestHub() *Hub {
	return NewHub(logger.NewDiscard().Logger)
}

func TestHub_PublishStatusWireFormat(t *testing.T) {
	hub := newTestHub()
	conn := &fakeConn{}
	require.NoError(t, hub.Subscribe(conn, "u1"))

	n := hub.PublishStatus("u1", StatusUpdate{VideoID: "v1", Status: domain.StatusProcessing, Percent: 37})

	assert.Equal(t, 1, n)
	frames := conn.received()
	require.Len(t, frames, 1)
	assert.JSONEq(t,
		`{"event":"videoStatusUpdate","data":{"videoId":"v1","status":"processing","percent":37}}`,
		frames[0],
	)
}

func TestHub_RoutingIsolation(t *testing.T) {
	hub := newTestHub()
	a1, a2, b := &fakeConn{}, &fakeConn{}, &fakeConn{}
	require.NoError(t, hub.Subscribe(a1, "alice"))
	require.NoError(t, hub.Subscribe(a2, "alice"))
	require.NoError(t, hub.Subscribe(b, "bob"))

	n := hub.PublishStatus("alice", StatusUpdate{VideoID: "v1", Status: domain.StatusAnalyzing})

	assert.Equal(t, 2, n)
	assert.Len(t, a1.received(), 1)
	assert.Len(t, a2.received(), 1)
	assert.Empty(t, b.received())
}

func TestHub_DropWhenAbsent(t *testing.T) {
	hub := newTestHub()

	n := hub.PublishStatus("u1", StatusUpdate{VideoID: "v1", Status: domain.StatusReady, Percent: 100})
	assert.Equal(t, 0, n)

	// nothing is queued for a later subscriber
	conn := &fakeConn{}
	require.NoError(t, hub.Subscribe(conn, "u1"))
	assert.Empty(t, conn.received())
}

func TestHub_SlowConnectionDropsOnlyItsCopy(t *testing.T) {
	hub := newTestHub()
	fast, slow := &fakeConn{}, &fakeConn{full: true}
	require.NoError(t, hub.Subscribe(fast, "u1"))
	require.NoError(t, hub.Subscribe(slow, "u1"))

	n := hub.PublishStatus("u1", StatusUpdate{VideoID: "v1", Status: domain.StatusProcessing, Percent: 10})

	assert.Equal(t, 1, n)
	assert.Len(t, fast.received(), 1)
	assert.Empty(t, slow.received())
}

func TestHub_UnsubscribeAndResubscribe(t *testing.T) {
	hub := newTestHub()
	conn := &fakeConn{}

	require.NoError(t, hub.Subscribe(conn, "u1"))
	assert.Equal(t, 1, hub.Connections("u1"))

	require.NoError(t, hub.Subscribe(conn, "u2"))
	assert.Equal(t, 0, hub.Connections("u1"))
	assert.Equal(t, 1, hub.Connections("u2"))

	hub.Unsubscribe(conn)
	hub.Unsubscribe(conn)
	assert.Equal(t, 0, hub.Connections("u2"))
	assert.Equal(t, 0, hub.PublishStatus("u2", StatusUpdate{VideoID: "v1"}))
}

func TestHub_SubscribeRequiresUser(t *testing.T) {
	assert.ErrorIs(t, newTestHub().Subscribe(&fakeConn{}, ""), ErrEmptyUserID)
}

func TestHub_Close(t *testing.T) {
	hub := newTestHub()
	a, b := &fakeConn{}, &fakeConn{}
	require.NoError(t, hub.Subscribe(a, "u1"))
	require.NoError(t, hub.Subscribe(b, "u2"))

	hub.Close()
	hub.Close()

	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
	assert.Equal(t, 0, hub.Connections("u1"))
	assert.ErrorIs(t, hub.Subscribe(&fakeConn{}, "u1"), ErrHubClosed)
}

func TestHub_ConcurrentAccess(t *testing.T) {
	hub := newTestHub()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := fmt.Sprintf("u%d", i%4)
			conn := &fakeConn{}
			for j := 0; j < 50; j++ {
				_ = hub.Subscribe(conn, userID)
				hub.PublishStatus(userID, StatusUpdate{VideoID: "v", Status: domain.StatusProcessing, Percent: j})
				hub.Unsubscribe(conn)
			}
		}(i)
	}

	wg.Wait()
	for i := 0; i < 4; i++ {
		assert.Equal(t, 0, hub.Connections(fmt.Sprintf("u%d", i)))
	}
}

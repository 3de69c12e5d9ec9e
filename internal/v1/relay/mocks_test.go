package relay

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsFrame is one message crossing the mock socket.
type wsFrame struct {
	messageType int
	data        []byte
}

// mockConn is an in-memory wsConnection. The test plays the remote peer:
// send() feeds frames into ReadMessage, nextBinary() observes writes.
type mockConn struct {
	inbound chan wsFrame
	written chan wsFrame
	closed  chan struct{}
	once    sync.Once
}

func newMockConn() *mockConn {
	return &mockConn{
		inbound: make(chan wsFrame, 64),
		written: make(chan wsFrame, 64),
		closed:  make(chan struct{}),
	}
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-m.inbound:
		return f.messageType, f.data, nil
	case <-m.closed:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (m *mockConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-m.closed:
		return errors.New("use of closed network connection")
	default:
	}

	frame := wsFrame{messageType, append([]byte(nil), data...)}
	select {
	case m.written <- frame:
	default:
		// The test stopped consuming; drop instead of deadlocking.
	}
	return nil
}

func (m *mockConn) SetWriteDeadline(time.Time) error { return nil }

func (m *mockConn) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}

// send delivers a binary frame as if the peer had sent it.
func (m *mockConn) send(data []byte) {
	m.inbound <- wsFrame{websocket.BinaryMessage, data}
}

// sendText delivers a text frame; the relay must ignore it.
func (m *mockConn) sendText(data string) {
	m.inbound <- wsFrame{websocket.TextMessage, []byte(data)}
}

// nextBinary waits for the next binary frame written to the peer, skipping
// control frames.
func (m *mockConn) nextBinary(t *testing.T) []byte {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-m.written:
			if f.messageType == websocket.BinaryMessage {
				return f.data
			}
		case <-deadline:
			t.Fatal("timed out waiting for a binary frame")
			return nil
		}
	}
}

// expectSilence asserts that no binary frame arrives within the window.
func (m *mockConn) expectSilence(t *testing.T, window time.Duration) {
	t.Helper()
	deadline := time.After(window)
	for {
		select {
		case f := <-m.written:
			if f.messageType == websocket.BinaryMessage {
				t.Fatalf("expected silence, got frame %v", f.data)
			}
		case <-deadline:
			return
		}
	}
}

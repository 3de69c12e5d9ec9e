package session

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

// netConn is the minimal socket surface the transport needs. The production
// implementation wraps a gorilla connection; tests substitute an in-memory
// fake.
type netConn interface {
	// TryRecv returns the next pending binary message without blocking.
	// (nil, nil) means nothing is pending. A non-nil error means the
	// connection is gone; no further messages will arrive.
	TryRecv() ([]byte, error)
	Send(data []byte) error
	Close() error
}

type dialFunc func(url string) (netConn, error)

// recvBuffer bounds the frames held between two ticks. A frontend that
// stops ticking stalls the read pump instead of growing without limit.
const recvBuffer = 256

type wsConn struct {
	conn   *websocket.Conn
	frames chan []byte

	done     chan struct{}
	doneOnce sync.Once

	mu      sync.Mutex
	readErr error
}

// dialRelay connects to the relay and starts the read pump. Sends happen on
// the caller's frame loop; only binary messages are surfaced.
func dialRelay(url string) (netConn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, errors.New("Could not reach websocket api")
	}

	w := &wsConn{
		conn:   conn,
		frames: make(chan []byte, recvBuffer),
		done:   make(chan struct{}),
	}
	go w.readPump()
	return w, nil
}

func (w *wsConn) readPump() {
	defer close(w.frames)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			w.readErr = errors.New("Connection closed by server")
			w.mu.Unlock()
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		select {
		case w.frames <- data:
		case <-w.done:
			return
		}
	}
}

func (w *wsConn) TryRecv() ([]byte, error) {
	select {
	case data, ok := <-w.frames:
		if !ok {
			w.mu.Lock()
			defer w.mu.Unlock()
			return nil, w.readErr
		}
		return data, nil
	default:
		return nil, nil
	}
}

func (w *wsConn) Send(data []byte) error {
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (w *wsConn) Close() error {
	w.doneOnce.Do(func() { close(w.done) })
	return w.conn.Close()
}

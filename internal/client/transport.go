package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
)

var (
	ErrClosed        = errors.New("transport closed")
	ErrSendQueueFull = errors.New("send queue full")
	ErrUnauthorized  = errors.New("server rejected credentials")
)

const (
	defaultSendBuffer = 256
	writeWait         = 10 * time.Second
	pingPeriod        = 50 * time.Second
)

// Transport carries encoded envelopes between a board and the relay.
type Transport interface {
	// Send enqueues a frame without blocking.
	Send(frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

type DialOptions struct {
	// URL of the websocket endpoint, e.g. ws://host:8090/ws.
	URL      string
	Token    string
	Username string
	// MaxRetries bounds reconnect attempts of the initial dial; 0 retries
	// until ctx is done.
	MaxRetries uint64
	SendBuffer int
	Header     http.Header
	Dialer     *websocket.Dialer
}

// WSTransport is a Transport over a gorilla websocket connection.
type WSTransport struct {
	conn     *websocket.Conn
	send     chan []byte
	incoming chan []byte
	done     chan struct{}
	flushed  chan struct{}
	once     sync.Once

	mu      sync.Mutex
	readErr error
}

// Dial connects to the relay, retrying with exponential backoff. Credential
// rejections are not retried.
func Dial(ctx context.Context, opts DialOptions) (*WSTransport, error) {
	target, header, err := dialTarget(opts)
	if err != nil {
		return nil, err
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	var (
		conn  *websocket.Conn
		fatal error
	)
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = 0
	var b backoff.BackOff = backoff.WithContext(policy, ctx)
	if opts.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, opts.MaxRetries)
	}
	err = backoff.RetryNotify(func() error {
		c, resp, err := dialer.DialContext(ctx, target, header)
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				fatal = fmt.Errorf("%w: %s", ErrUnauthorized, resp.Status)
				return nil
			}
			return err
		}
		conn = c
		return nil
	}, b, func(err error, wait time.Duration) {
		log.Printf("client: dial %s failed (%v), retrying in %s", opts.URL, err, wait)
	})
	if fatal != nil {
		return nil, fatal
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.URL, err)
	}
	if conn == nil {
		return nil, fmt.Errorf("dial %s: %w", opts.URL, ctx.Err())
	}
	return NewWSTransport(conn, opts.SendBuffer), nil
}

func dialTarget(opts DialOptions) (string, http.Header, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return "", nil, fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	if opts.Token != "" {
		q.Set("token", opts.Token)
	}
	if opts.Username != "" {
		q.Set("username", opts.Username)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	for k, v := range opts.Header {
		header[k] = v
	}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}
	return u.String(), header, nil
}

// NewWSTransport takes ownership of an established connection.
func NewWSTransport(conn *websocket.Conn, sendBuffer int) *WSTransport {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	t := &WSTransport{
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		incoming: make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		flushed:  make(chan struct{}),
	}
	go t.readPump()
	go t.writePump()
	return t
}

func (t *WSTransport) Send(frame []byte) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	select {
	case t.send <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (t *WSTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-t.incoming:
		if !ok {
			return nil, t.err()
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close writes the frames already queued, sends a close message and waits
// for the writer to finish.
func (t *WSTransport) Close() error {
	t.shutdown()
	<-t.flushed
	return nil
}

func (t *WSTransport) shutdown() {
	t.once.Do(func() { close(t.done) })
}

func (t *WSTransport) err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.readErr != nil {
		return t.readErr
	}
	return ErrClosed
}

func (t *WSTransport) readPump() {
	defer close(t.incoming)
	for {
		_, frame, err := t.conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			t.readErr = err
			t.mu.Unlock()
			t.shutdown()
			return
		}
		select {
		case t.incoming <- frame:
		case <-t.done:
			return
		}
	}
}

func (t *WSTransport) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		t.conn.Close()
		close(t.flushed)
	}()
	write := func(frame []byte) bool {
		_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := t.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Printf("client: write failed: %v", err)
			t.shutdown()
			return false
		}
		return true
	}
	for {
		select {
		case frame := <-t.send:
			if !write(frame) {
				return
			}
		case <-ticker.C:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.shutdown()
				return
			}
		case <-t.done:
			for pending := true; pending; {
				select {
				case frame := <-t.send:
					pending = write(frame)
				default:
					pending = false
				}
			}
			_ = t.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

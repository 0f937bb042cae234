package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// StreamConfig configures the websocket pair stream.
type StreamConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// Buffer is the update channel capacity.
	Buffer int
}

// DefaultStreamConfig returns default stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		Buffer:            256,
	}
}

// Update is one live pair observation pushed by the stream.
type Update struct {
	Mint string `json:"mint"`
	Pair Pair   `json:"pair"`
}

// Stream delivers live pair updates for a set of mints over a websocket
// connection, reconnecting with backoff and resubscribing on drops.
type Stream struct {
	endpoint string
	config   StreamConfig

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	mints   []string
	mintsMu sync.RWMutex

	updates chan Update
	done    chan struct{}
	wg      sync.WaitGroup
}

// subscribeMessage is the wire format for (re)subscribing to mints.
type subscribeMessage struct {
	Op    string   `json:"op"`
	Mints []string `json:"mints"`
}

// NewStream connects to the stream endpoint and subscribes to the mints.
func NewStream(ctx context.Context, endpoint string, mints []string, config *StreamConfig) (*Stream, error) {
	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}

	s := &Stream{
		endpoint: endpoint,
		config:   cfg,
		mints:    append([]string(nil), mints...),
		updates:  make(chan Update, cfg.Buffer),
		done:     make(chan struct{}),
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	if err := s.subscribe(); err != nil {
		s.closeConn()
		return nil, err
	}

	s.wg.Add(1)
	go s.readLoop()

	s.wg.Add(1)
	go s.pingLoop()

	return s, nil
}

// Updates returns the channel of live pair observations. It is closed when
// the stream shuts down.
func (s *Stream) Updates() <-chan Update {
	return s.updates
}

// Subscribe adds mints to the active subscription.
func (s *Stream) Subscribe(mints ...string) error {
	s.mintsMu.Lock()
	s.mints = append(s.mints, mints...)
	s.mintsMu.Unlock()
	return s.subscribe()
}

// Close shuts the stream down and closes the updates channel.
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)
	s.closeConn()
	s.wg.Wait()
	close(s.updates)
	return nil
}

// connect establishes the websocket connection.
func (s *Stream) connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	s.conn = conn
	return nil
}

// subscribe sends the current mint set to the stream.
func (s *Stream) subscribe() error {
	s.mintsMu.RLock()
	msg := subscribeMessage{Op: "subscribe", Mints: append([]string(nil), s.mints...)}
	s.mintsMu.RUnlock()

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

// readLoop reads updates until the stream is closed, reconnecting on errors.
func (s *Stream) readLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()
		if conn == nil {
			if !s.reconnect() {
				return
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}
			if !s.reconnect() {
				return
			}
			continue
		}

		var u Update
		if err := json.Unmarshal(data, &u); err != nil || u.Mint == "" {
			// Unparseable frames are dropped; the polled feed remains
			// the source of truth.
			continue
		}

		select {
		case s.updates <- u:
		case <-s.done:
			return
		default:
			// Drop on a full buffer rather than stall the read loop.
		}
	}
}

// reconnect re-establishes the connection with exponential backoff.
// Returns false when the stream is shutting down.
func (s *Stream) reconnect() bool {
	s.closeConn()

	delay := s.config.ReconnectDelay
	for {
		select {
		case <-s.done:
			return false
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := s.connect(ctx)
		cancel()
		if err == nil {
			if err := s.subscribe(); err == nil {
				return true
			}
			s.closeConn()
		}

		delay *= 2
		if delay > s.config.MaxReconnectDelay {
			delay = s.config.MaxReconnectDelay
		}
	}
}

// pingLoop keeps the connection alive.
func (s *Stream) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.config.WriteTimeout))
			}
			s.connMu.Unlock()
		}
	}
}

func (s *Stream) closeConn() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

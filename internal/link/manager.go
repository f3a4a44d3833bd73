package link

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"visiontrigger/internal/logger"
)

// Status is the link state
type Status int32

const (
	Disconnected Status = iota
	Connecting
	Connected
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// MarshalText lets Status render as its name in JSON
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// LinkSession is a snapshot of the link as seen by the manager
type LinkSession struct {
	Status      Status    `json:"status"`
	PeerAddress string    `json:"peer_address"`
	Transport   string    `json:"transport"`
	LastError   string    `json:"last_error,omitempty"`
	Since       time.Time `json:"since"`
	Reconnects  int       `json:"reconnects"`
}

// NotificationHandler receives peer messages as text
type NotificationHandler func(msg string)

// Config is the manager's tuning
type Config struct {
	Peer           string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	Backoff        Backoff
	NotifyQueue    int
}

// Stats counts link activity
type Stats struct {
	Sent          uint64 `json:"sent"`
	SendFailures  uint64 `json:"send_failures"`
	Notifications uint64 `json:"notifications"`
	NotifyDropped uint64 `json:"notify_dropped"`
	ConnectFailed uint64 `json:"connect_failed"`
}

// Manager owns the session with one peer and keeps it alive
type Manager struct {
	transport Transport
	cfg       Config

	mu    sync.RWMutex
	state LinkSession
	sess  Session

	// writing is held shared for the duration of every Send; shutdown
	// takes it exclusively before closing the session
	writing sync.RWMutex

	handlersMu sync.RWMutex
	handlers   map[uint64]NotificationHandler
	nextID     uint64

	listenersMu sync.RWMutex
	listeners   []func(LinkSession)

	queue chan []byte

	sent          atomic.Uint64
	sendFailures  atomic.Uint64
	notifications atomic.Uint64
	notifyDropped atomic.Uint64
	connectFailed atomic.Uint64
}

// NewManager creates a manager in the Disconnected state. Nothing connects
// until Run is called.
func NewManager(transport Transport, cfg Config) *Manager {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.NotifyQueue <= 0 {
		cfg.NotifyQueue = 32
	}

	return &Manager{
		transport: transport,
		cfg:       cfg,
		state: LinkSession{
			Status:      Disconnected,
			PeerAddress: cfg.Peer,
			Transport:   transport.Name(),
			Since:       time.Now(),
		},
		handlers: make(map[uint64]NotificationHandler),
		queue:    make(chan []byte, cfg.NotifyQueue),
	}
}

// Run supervises the session until ctx is cancelled: connect, hold the
// session until it drops, wait the backoff, reconnect.
func (m *Manager) Run(ctx context.Context) error {
	var dispatcher sync.WaitGroup
	dispatcher.Add(1)
	go func() {
		defer dispatcher.Done()
		m.dispatch(ctx)
	}()
	defer dispatcher.Wait()

	logger.Info("Link", "Supervisor started for %s over %s", m.cfg.Peer, m.transport.Name())

	attempt := 0
	for {
		if ctx.Err() != nil {
			m.transition(Disconnected, nil)
			logger.Info("Link", "Supervisor stopped")
			return nil
		}

		m.transition(Connecting, nil)
		sess, err := m.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			attempt++
			m.connectFailed.Add(1)
			m.transition(Disconnected, err)
			delay := m.cfg.Backoff.Delay(attempt)
			logger.Warn("Link", "%v (attempt %d), retrying in %v", err, attempt, delay)
			sleep(ctx, delay)
			continue
		}

		attempt = 0
		m.mu.Lock()
		m.sess = sess
		m.mu.Unlock()
		m.transition(Connected, nil)
		logger.Info("Link", "Connected to %s", m.cfg.Peer)

		select {
		case <-ctx.Done():
			m.writing.Lock()
			m.release(sess)
			m.writing.Unlock()
			continue
		case <-sess.Done():
		}

		dropErr := sess.Err()
		if dropErr == nil {
			dropErr = fmt.Errorf("session closed by peer")
		}
		m.release(sess)
		m.mu.Lock()
		m.state.Reconnects++
		m.mu.Unlock()
		m.transition(Disconnected, dropErr)

		delay := m.cfg.Backoff.Delay(1)
		logger.Warn("Link", "Disconnected from %s: %v, reconnecting in %v", m.cfg.Peer, dropErr, delay)
		sleep(ctx, delay)
	}
}

func (m *Manager) connect(ctx context.Context) (Session, error) {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	sess, err := m.transport.Connect(cctx, m.cfg.Peer, m.enqueue)
	if err != nil {
		return nil, &ConnectError{Peer: m.cfg.Peer, Err: err}
	}
	return sess, nil
}

func (m *Manager) release(sess Session) {
	m.mu.Lock()
	if m.sess == sess {
		m.sess = nil
	}
	m.mu.Unlock()

	if err := sess.Close(); err != nil {
		logger.Debug("Link", "Close session: %v", err)
	}
}

func (m *Manager) transition(status Status, err error) {
	m.mu.Lock()
	if m.state.Status == status && err == nil {
		m.mu.Unlock()
		return
	}
	m.state.Status = status
	m.state.Since = time.Now()
	if err != nil {
		m.state.LastError = err.Error()
	}
	snap := m.state
	m.mu.Unlock()

	logger.Debug("Link", "State -> %s", status)

	m.listenersMu.RLock()
	listeners := append([]func(LinkSession){}, m.listeners...)
	m.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

// Send writes cmd to the peer, bounded by the write timeout
func (m *Manager) Send(ctx context.Context, cmd []byte) error {
	m.writing.RLock()
	defer m.writing.RUnlock()

	m.mu.RLock()
	sess := m.sess
	status := m.state.Status
	m.mu.RUnlock()

	if sess == nil || status != Connected {
		m.sendFailures.Add(1)
		return &SendError{Err: ErrNotConnected}
	}

	wctx, cancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
	defer cancel()

	if err := sess.Write(wctx, cmd); err != nil {
		m.sendFailures.Add(1)
		return &SendError{Err: err}
	}

	m.sent.Add(1)
	logger.Debug("Link", "Sent %q", cmd)
	return nil
}

// Subscribe registers a notification handler. Handlers run on the
// dispatcher goroutine, one message at a time.
func (m *Manager) Subscribe(handler NotificationHandler) func() {
	m.handlersMu.Lock()
	id := m.nextID
	m.nextID++
	m.handlers[id] = handler
	m.handlersMu.Unlock()

	return func() {
		m.handlersMu.Lock()
		delete(m.handlers, id)
		m.handlersMu.Unlock()
	}
}

// OnStateChange registers a listener called after every state transition
func (m *Manager) OnStateChange(fn func(LinkSession)) {
	m.listenersMu.Lock()
	m.listeners = append(m.listeners, fn)
	m.listenersMu.Unlock()
}

// enqueue is handed to the transport; it never blocks
func (m *Manager) enqueue(payload []byte) {
	msg := make([]byte, len(payload))
	copy(msg, payload)

	select {
	case m.queue <- msg:
	default:
		m.notifyDropped.Add(1)
		logger.Warn("Link", "Notification queue full, dropped %d bytes", len(msg))
	}
}

func (m *Manager) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-m.queue:
			m.notifications.Add(1)
			text := string(msg)
			logger.Info("Link", "Notification: %q", text)

			m.handlersMu.RLock()
			handlers := make([]NotificationHandler, 0, len(m.handlers))
			for _, h := range m.handlers {
				handlers = append(handlers, h)
			}
			m.handlersMu.RUnlock()

			for _, h := range handlers {
				h(text)
			}
		}
	}
}

// Status returns the current link state
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Status
}

// Session returns a snapshot of the link
func (m *Manager) Session() LinkSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Stats returns link counters
func (m *Manager) Stats() Stats {
	return Stats{
		Sent:          m.sent.Load(),
		SendFailures:  m.sendFailures.Load(),
		Notifications: m.notifications.Load(),
		NotifyDropped: m.notifyDropped.Load(),
		ConnectFailed: m.connectFailed.Load(),
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

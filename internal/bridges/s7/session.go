package s7

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robinson/gos7"
)

// Default timeouts for S7 sessions.
const (
	// defaultConnectTimeout bounds session establishment and each PDU exchange.
	defaultConnectTimeout = 5 * time.Second

	// defaultIdleTimeout closes the TCP link after this long without traffic.
	defaultIdleTimeout = 60 * time.Second
)

// Session is an established link to one PLC.
type Session interface {
	// ReadBlock reads length bytes from data block db starting at offset.
	ReadBlock(db, offset, length int) ([]byte, error)

	// Alive reports whether the session is still usable. A session that has
	// seen a transport error or has been closed reports false.
	Alive() bool

	// Close releases the session. Safe to call more than once.
	Close() error
}

// Dialer establishes sessions.
type Dialer interface {
	Dial(address string, rack, slot int) (Session, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(address string, rack, slot int) (Session, error)

// Dial calls f.
func (f DialerFunc) Dial(address string, rack, slot int) (Session, error) {
	return f(address, rack, slot)
}

// GoS7Dialer dials sessions over ISO-on-TCP using gos7.
type GoS7Dialer struct {
	// ConnectTimeout bounds connect and each request. Default: 5 seconds.
	ConnectTimeout time.Duration

	// IdleTimeout closes idle links. Default: 60 seconds.
	IdleTimeout time.Duration
}

// Ensure GoS7Dialer implements Dialer.
var _ Dialer = GoS7Dialer{}

// Dial connects to the PLC at address (host or host:port) with the given
// rack and slot.
func (d GoS7Dialer) Dial(address string, rack, slot int) (Session, error) {
	connectTimeout := d.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	idleTimeout := d.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}

	handler := gos7.NewTCPClientHandler(address, rack, slot)
	handler.Timeout = connectTimeout
	handler.IdleTimeout = idleTimeout

	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("connecting to %s (rack %d, slot %d): %w", address, rack, slot, err)
	}

	return &gos7Session{
		handler: handler,
		client:  gos7.NewClient(handler),
	}, nil
}

// gos7Session wraps a connected gos7 client.
type gos7Session struct {
	handler *gos7.TCPClientHandler
	client  gos7.Client

	mu        sync.Mutex // serialises requests on the link
	dead      atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (s *gos7Session) ReadBlock(db, offset, length int) ([]byte, error) {
	if s.dead.Load() {
		return nil, ErrSessionClosed
	}
	if length <= 0 {
		return nil, fmt.Errorf("%w: read length must be positive, got %d", ErrReadFailed, length)
	}

	buf := make([]byte, length)

	s.mu.Lock()
	err := s.client.AGReadDB(db, offset, length, buf)
	s.mu.Unlock()

	if err != nil {
		s.dead.Store(true)
		return nil, fmt.Errorf("reading DB%d.%d (%d bytes): %w", db, offset, length, err)
	}
	return buf, nil
}

func (s *gos7Session) Alive() bool {
	return !s.dead.Load()
}

func (s *gos7Session) Close() error {
	s.closeOnce.Do(func() {
		s.dead.Store(true)
		s.closeErr = s.handler.Close()
	})
	return s.closeErr
}

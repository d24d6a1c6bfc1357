package xsig

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Timeouts and buffer sizes for the control processor link.
const (
	// defaultWriteTimeout is the timeout for individual socket writes.
	defaultWriteTimeout = 5 * time.Second

	// readBufferSize is the size of the socket read buffer.
	readBufferSize = 4096

	// writeQueueSize is the depth of the outbound frame queue.
	// A full queue means the processor stopped reading; the session
	// is torn down rather than blocking the bridge.
	writeQueueSize = 256
)

// Config holds the TCP listener configuration.
type Config struct {
	// Host is the listen address (e.g. "0.0.0.0").
	Host string

	// Port is the TCP port the XSIG symbol connects to.
	Port int

	// MaxSerialLength caps inbound serial payloads in bytes.
	// Zero selects the decoder default.
	MaxSerialLength int
}

// Stats holds operational statistics.
type Stats struct {
	FramesTx         uint64
	FramesRx         uint64
	FramesDropped    uint64 // Outbound frames dropped due to full write queue
	SessionsTotal    uint64
	PreemptionsTotal uint64 // Sessions replaced by a newer connection
	LastActivity     time.Time
	Connected        bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// session is one accepted control processor connection.
type session struct {
	conn       net.Conn
	remoteAddr string
	writeQueue chan []byte
	done       *closeOnce
}

// Server owns the TCP listener the control processor dials into.
//
// The processor is the client: its XSIG symbol is configured with this
// host/port and reconnects on its own schedule. At most one session is
// active; a new inbound connection preempts the old one. Inbound frames
// flow read loop → decoder → store → dispatcher in wire order; outbound
// frames are serialised through a single writer goroutine per session.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Server struct {
	cfg        Config
	store      *Store
	dispatcher *Dispatcher

	listener net.Listener

	// Active session (nil when no processor is connected).
	sessionMu sync.Mutex
	session   *session

	// Callbacks (optional).
	onSyncRequest func()
	onAvailable   func(bool)
	callbackMu    sync.RWMutex

	// Shutdown coordination.
	done *closeOnce
	wg   sync.WaitGroup

	// Logger (optional).
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance).
	framesTx         atomic.Uint64
	framesRx         atomic.Uint64
	framesDropped    atomic.Uint64
	sessionsTotal    atomic.Uint64
	preemptionsTotal atomic.Uint64
	lastActivity     atomic.Int64 // Unix timestamp
}

// NewServer creates a server over the given store and dispatcher.
// Call Start to bind the listener.
func NewServer(cfg Config, store *Store, dispatcher *Dispatcher) *Server {
	return &Server{
		cfg:        cfg,
		store:      store,
		dispatcher: dispatcher,
		done:       newCloseOnce(),
	}
}

// SetLogger sets an optional logger. Call before Start.
func (s *Server) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// SetOnSyncRequest sets a callback invoked when the processor sends the
// sync-all byte. The callback runs on the read path and should only
// enqueue work. Call before Start.
func (s *Server) SetOnSyncRequest(callback func()) {
	s.callbackMu.Lock()
	s.onSyncRequest = callback
	s.callbackMu.Unlock()
}

// SetOnAvailable sets a callback invoked on availability transitions:
// true when a session is established, false when it ends. Call before
// Start.
func (s *Server) SetOnAvailable(callback func(bool)) {
	s.callbackMu.Lock()
	s.onAvailable = callback
	s.callbackMu.Unlock()
}

// closed reports whether Close has been called.
func (s *Server) closed() bool {
	select {
	case <-s.done.Done():
		return true
	default:
		return false
	}
}

// Start binds the TCP listener and begins accepting connections.
//
// Returns:
//   - error: ErrServerClosed after Close, ErrListenFailed if the
//     address cannot be bound
func (s *Server) Start() error {
	if s.closed() {
		return ErrServerClosed
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrListenFailed, err)
	}
	s.listener = listener

	s.logInfo("listening for control processor", "addr", addr)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
// Useful when Port 0 let the OS pick.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// RemoteAddr returns the active session's remote address, or "" when
// no control processor is connected.
func (s *Server) RemoteAddr() string {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	if s.session == nil {
		return ""
	}
	return s.session.remoteAddr
}

// Accept retry backoff bounds for transient errors (EMFILE, ECONNABORTED).
const (
	acceptBackoffMin = 50 * time.Millisecond
	acceptBackoffMax = time.Second
)

// acceptLoop accepts connections until shutdown. Each new connection
// preempts the previous session: the processor reconnects aggressively
// after network blips and the stale socket may linger half-open.
//
// Transient accept errors (file descriptor exhaustion, aborted
// handshakes) are retried with backoff; the loop only exits on Close.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	var backoff time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed() || errors.Is(err, net.ErrClosed) {
				return
			}

			switch {
			case backoff == 0:
				backoff = acceptBackoffMin
			case backoff < acceptBackoffMax:
				backoff *= 2
			}
			s.logWarn("accept failed, retrying",
				"error", err.Error(), "backoff", backoff.String())

			select {
			case <-s.done.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}

		backoff = 0
		s.startSession(conn)
	}
}

// startSession installs conn as the active session, preempting any
// previous one, and starts its reader and writer goroutines.
func (s *Server) startSession(conn net.Conn) {
	sess := &session{
		conn:       conn,
		remoteAddr: conn.RemoteAddr().String(),
		writeQueue: make(chan []byte, writeQueueSize),
		done:       newCloseOnce(),
	}

	s.sessionMu.Lock()
	old := s.session
	s.session = sess
	s.sessionMu.Unlock()

	if old != nil {
		s.preemptionsTotal.Add(1)
		s.logWarn("control processor session preempted by new connection",
			"old_remote", old.remoteAddr,
			"new_remote", sess.remoteAddr)
		old.done.Close()
		old.conn.Close()
	}

	s.sessionsTotal.Add(1)
	s.lastActivity.Store(time.Now().Unix())
	s.logInfo("control processor connected", "remote", sess.remoteAddr)

	s.wg.Add(2)
	go s.writeLoop(sess)
	go s.readLoop(sess)

	// Ask the processor for the current value of every join so the
	// store catches up on anything missed while disconnected.
	s.enqueue(sess, EncodeUpdateRequest())

	s.notifyAvailable(true)
}

// readLoop reads and decodes frames until the session ends.
func (s *Server) readLoop(sess *session) {
	defer s.wg.Done()

	decoder := NewDecoder(s.cfg.MaxSerialLength)
	decoder.SetLogger(s.getLogger())

	buf := make([]byte, 0, readBufferSize)
	tmp := make([]byte, readBufferSize)

	for {
		n, err := sess.conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			updates, consumed := decoder.Decode(buf)
			buf = append(buf[:0], buf[consumed:]...)

			for _, u := range updates {
				s.handleUpdate(u)
			}
		}
		if err != nil {
			select {
			case <-sess.done.Done():
				// Preempted or shut down; the replacement session
				// (if any) owns availability now.
				return
			default:
			}
			s.logInfo("control processor disconnected",
				"remote", sess.remoteAddr, "reason", err.Error())
			s.endSession(sess)
			return
		}
	}
}

// handleUpdate applies one decoded update: store first, then notify
// subscribers only when the value actually changed.
func (s *Server) handleUpdate(u Update) {
	s.lastActivity.Store(time.Now().Unix())

	if u.Kind == JoinSyncRequest {
		s.logDebug("sync-all requested by control processor")
		s.callbackMu.RLock()
		callback := s.onSyncRequest
		s.callbackMu.RUnlock()
		if callback != nil {
			callback()
		}
		return
	}

	s.framesRx.Add(1)

	var changed bool
	switch u.Kind {
	case JoinDigital:
		changed = s.store.SetDigital(u.Join, u.Digital)
	case JoinAnalog:
		changed = s.store.SetAnalog(u.Join, int(u.Analog))
	case JoinSerial:
		changed = s.store.SetSerial(u.Join, u.Serial)
	}

	if changed {
		s.dispatcher.Dispatch(u)
	}
}

// writeLoop drains the session's queue onto the socket.
// A failed write ends the session; there are no retries.
func (s *Server) writeLoop(sess *session) {
	defer s.wg.Done()

	for {
		select {
		case <-sess.done.Done():
			return
		case frame := <-sess.writeQueue:
			if err := sess.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
				s.logError("set write deadline failed", err)
				s.endSession(sess)
				return
			}
			if _, err := sess.conn.Write(frame); err != nil {
				s.logError("write to control processor failed", err)
				s.endSession(sess)
				return
			}
			s.framesTx.Add(1)
		}
	}
}

// enqueue places a frame on the session's write queue.
// A full queue is fatal to the session: the processor stopped reading.
func (s *Server) enqueue(sess *session, frame []byte) {
	select {
	case sess.writeQueue <- frame:
	default:
		s.framesDropped.Add(1)
		s.logError("write queue overflow, ending session",
			fmt.Errorf("queue depth %d exceeded", writeQueueSize))
		s.endSession(sess)
	}
}

// endSession tears down sess and, if it is still the active session,
// flips availability off. A preempted session finds the active slot
// already taken by its replacement and leaves availability alone.
func (s *Server) endSession(sess *session) {
	s.sessionMu.Lock()
	active := s.session == sess
	if active {
		s.session = nil
	}
	s.sessionMu.Unlock()

	sess.done.Close()
	sess.conn.Close()

	if active {
		s.notifyAvailable(false)
	}
}

// notifyAvailable invokes the availability callback outside any lock.
func (s *Server) notifyAvailable(available bool) {
	s.callbackMu.RLock()
	callback := s.onAvailable
	s.callbackMu.RUnlock()
	if callback != nil {
		callback(available)
	}
}

// IsAvailable reports whether a control processor session is active.
func (s *Server) IsAvailable() bool {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	return s.session != nil
}

// activeSession returns the current session, or nil.
func (s *Server) activeSession() *session {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	return s.session
}

// SetDigital records and pushes a digital join value.
//
// The store is always updated so reconnect synchronisation sees the
// latest value; the frame is only sent while a processor is connected.
func (s *Server) SetDigital(join uint16, value bool) error {
	frame, err := EncodeDigital(join, value)
	if err != nil {
		return err
	}
	s.store.SetDigital(join, value)
	s.send(frame, JoinDigital, join)
	return nil
}

// SetAnalog records and pushes an analog join value (clamped to 16 bits).
func (s *Server) SetAnalog(join uint16, value int) error {
	s.store.SetAnalog(join, value)
	v, _ := s.store.GetAnalog(join)
	frame, err := EncodeAnalog(join, v)
	if err != nil {
		return err
	}
	s.send(frame, JoinAnalog, join)
	return nil
}

// SetSerial records and pushes a serial join value.
func (s *Server) SetSerial(join uint16, value string) error {
	frame, err := EncodeSerial(join, value)
	if err != nil {
		return err
	}
	s.store.SetSerial(join, value)
	s.send(frame, JoinSerial, join)
	return nil
}

// send queues a frame on the active session, or skips it quietly when
// no processor is connected.
func (s *Server) send(frame []byte, kind JoinKind, join uint16) {
	sess := s.activeSession()
	if sess == nil {
		s.logDebug("skipped join push, no control processor connected",
			"kind", kind.String(), "join", join)
		return
	}
	s.enqueue(sess, frame)
}

// RequestFullUpdate asks the processor to resend every join value.
// Sent automatically on each new session; callers may repeat it.
func (s *Server) RequestFullUpdate() error {
	if s.closed() {
		return ErrServerClosed
	}
	sess := s.activeSession()
	if sess == nil {
		return ErrNotAvailable
	}
	s.enqueue(sess, EncodeUpdateRequest())
	return nil
}

// Store returns the underlying join store.
func (s *Server) Store() *Store {
	return s.store
}

// Stats returns a snapshot of operational statistics.
func (s *Server) Stats() Stats {
	return Stats{
		FramesTx:         s.framesTx.Load(),
		FramesRx:         s.framesRx.Load(),
		FramesDropped:    s.framesDropped.Load(),
		SessionsTotal:    s.sessionsTotal.Load(),
		PreemptionsTotal: s.preemptionsTotal.Load(),
		LastActivity:     time.Unix(s.lastActivity.Load(), 0),
		Connected:        s.IsAvailable(),
	}
}

// Close shuts the server down: stops accepting, ends the active
// session and waits for all goroutines to exit.
func (s *Server) Close() error {
	s.done.Close()

	if s.listener != nil {
		s.listener.Close()
	}

	if sess := s.activeSession(); sess != nil {
		s.endSession(sess)
	}

	s.wg.Wait()
	return nil
}

// Logging helpers (nil-safe).

func (s *Server) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

func (s *Server) logDebug(msg string, keysAndValues ...any) {
	if l := s.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (s *Server) logInfo(msg string, keysAndValues ...any) {
	if l := s.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (s *Server) logWarn(msg string, keysAndValues ...any) {
	if l := s.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (s *Server) logError(msg string, err error) {
	if l := s.getLogger(); l != nil {
		l.Error(msg, "error", err)
	}
}

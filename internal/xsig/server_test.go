package xsig

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

// startTestServer starts a server on an ephemeral port.
func startTestServer(t *testing.T) (*Server, *Store, *Dispatcher) {
	t.Helper()

	store := NewStore()
	dispatcher := NewDispatcher()
	srv := NewServer(Config{Host: "127.0.0.1", Port: 0}, store, dispatcher)

	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	return srv, store, dispatcher
}

// dialTestServer connects to the server as the control processor would.
func dialTestServer(t *testing.T, srv *Server) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// readFrame reads exactly n bytes from conn with a deadline.
func readFrame(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read %d bytes: %v", n, err)
	}
	return buf
}

func TestServerSessionLifecycle(t *testing.T) {
	srv, _, _ := startTestServer(t)

	if srv.IsAvailable() {
		t.Error("IsAvailable() = true before any connection")
	}

	conn := dialTestServer(t, srv)
	waitFor(t, "session up", srv.IsAvailable)

	// Every new session starts with a full update request.
	if got := readFrame(t, conn, 1); got[0] != 0xFD {
		t.Errorf("first byte = %X, want FD", got)
	}

	conn.Close()
	waitFor(t, "session down", func() bool { return !srv.IsAvailable() })

	stats := srv.Stats()
	if stats.SessionsTotal != 1 {
		t.Errorf("SessionsTotal = %d, want 1", stats.SessionsTotal)
	}
}

func TestServerInboundFrames(t *testing.T) {
	srv, store, _ := startTestServer(t)
	conn := dialTestServer(t, srv)
	waitFor(t, "session up", srv.IsAvailable)
	readFrame(t, conn, 1) // update request

	var buf []byte
	f1, _ := EncodeDigital(5, true)
	f2, _ := EncodeAnalog(12, 32768)
	f3, _ := EncodeSerial(3, "Kitchen")
	buf = append(buf, f1...)
	buf = append(buf, f2...)
	buf = append(buf, f3...)

	if _, err := conn.Write(buf); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitFor(t, "frames stored", func() bool {
		return store.HasDigitalValue(5) && store.HasAnalogValue(12) && store.HasSerialValue(3)
	})

	if v, _ := store.GetDigital(5); !v {
		t.Error("digital 5 = false, want true")
	}
	if v, _ := store.GetAnalog(12); v != 32768 {
		t.Errorf("analog 12 = %d, want 32768", v)
	}
	if v, _ := store.GetSerial(3); v != "Kitchen" {
		t.Errorf("serial 3 = %q, want Kitchen", v)
	}
}

func TestServerDispatchOnlyOnChange(t *testing.T) {
	srv, _, dispatcher := startTestServer(t)

	var mu sync.Mutex
	var got []Update
	sub := dispatcher.Subscribe(func(u Update) {
		mu.Lock()
		got = append(got, u)
		mu.Unlock()
	})
	defer sub.Cancel()

	conn := dialTestServer(t, srv)
	waitFor(t, "session up", srv.IsAvailable)
	readFrame(t, conn, 1)

	frame, _ := EncodeDigital(7, true)
	// Same value twice: one transition, one dispatch.
	conn.Write(frame)
	conn.Write(frame)

	waitFor(t, "frames processed", func() bool {
		return srv.Stats().FramesRx >= 2
	})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("got %d dispatches, want 1", len(got))
	}
	if got[0].Kind != JoinDigital || got[0].Join != 7 || !got[0].Digital {
		t.Errorf("dispatched %+v, want digital join 7 true", got[0])
	}
}

func TestServerPreemption(t *testing.T) {
	srv, store, _ := startTestServer(t)

	conn1 := dialTestServer(t, srv)
	waitFor(t, "first session up", srv.IsAvailable)
	readFrame(t, conn1, 1)

	frame, _ := EncodeDigital(1, true)
	conn1.Write(frame)
	waitFor(t, "first frame stored", func() bool { return store.HasDigitalValue(1) })

	conn2 := dialTestServer(t, srv)
	waitFor(t, "preemption recorded", func() bool {
		return srv.Stats().PreemptionsTotal == 1
	})

	// The replaced connection is closed by the server.
	conn1.SetReadDeadline(time.Now().Add(2 * time.Second))
	oneByte := make([]byte, 1)
	if _, err := conn1.Read(oneByte); err == nil {
		// May first deliver the pending update request byte.
		if _, err = conn1.Read(oneByte); err == nil {
			t.Error("old connection still open after preemption")
		}
	}

	// The new session is live and the store survived the handover.
	if !srv.IsAvailable() {
		t.Error("IsAvailable() = false after preemption")
	}
	if got := readFrame(t, conn2, 1); got[0] != 0xFD {
		t.Errorf("new session first byte = %X, want FD", got)
	}
	if !store.HasDigitalValue(1) {
		t.Error("store lost values across preemption")
	}
}

func TestServerOutboundPush(t *testing.T) {
	srv, _, _ := startTestServer(t)
	conn := dialTestServer(t, srv)
	waitFor(t, "session up", srv.IsAvailable)
	readFrame(t, conn, 1)

	if err := srv.SetDigital(4, true); err != nil {
		t.Fatalf("SetDigital() error = %v", err)
	}
	if got := readFrame(t, conn, 2); !bytes.Equal(got, []byte{0x80, 0x03}) {
		t.Errorf("digital frame = %X, want 8003", got)
	}

	if err := srv.SetAnalog(2, 70000); err != nil {
		t.Fatalf("SetAnalog() error = %v", err)
	}
	// Clamped to 65535 before encoding.
	if got := readFrame(t, conn, 4); !bytes.Equal(got, []byte{0xF0, 0x01, 0x7F, 0x7F}) {
		t.Errorf("analog frame = %X, want F0017F7F", got)
	}

	if err := srv.SetSerial(3, "Hi"); err != nil {
		t.Fatalf("SetSerial() error = %v", err)
	}
	if got := readFrame(t, conn, 5); !bytes.Equal(got, []byte{0xC8, 0x02, 'H', 'i', 0xFF}) {
		t.Errorf("serial frame = %X", got)
	}
}

func TestServerSetWhileDisconnected(t *testing.T) {
	srv, store, _ := startTestServer(t)

	// No processor connected: the store still records the value so a
	// later session can be synchronised.
	if err := srv.SetDigital(9, true); err != nil {
		t.Fatalf("SetDigital() error = %v", err)
	}
	if v, ok := store.GetDigital(9); !ok || !v {
		t.Error("store not updated while disconnected")
	}

	if err := srv.SetDigital(0, true); !errors.Is(err, ErrInvalidJoin) {
		t.Errorf("SetDigital(0) error = %v, want ErrInvalidJoin", err)
	}
}

func TestServerSyncRequestCallback(t *testing.T) {
	store := NewStore()
	dispatcher := NewDispatcher()
	srv := NewServer(Config{Host: "127.0.0.1", Port: 0}, store, dispatcher)

	synced := make(chan struct{}, 1)
	srv.SetOnSyncRequest(func() {
		select {
		case synced <- struct{}{}:
		default:
		}
	})

	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer srv.Close()

	conn := dialTestServer(t, srv)
	waitFor(t, "session up", srv.IsAvailable)

	conn.Write([]byte{0xFB})

	select {
	case <-synced:
	case <-time.After(2 * time.Second):
		t.Fatal("sync-all callback never fired")
	}
}

func TestServerAvailabilityCallback(t *testing.T) {
	store := NewStore()
	dispatcher := NewDispatcher()
	srv := NewServer(Config{Host: "127.0.0.1", Port: 0}, store, dispatcher)

	transitions := make(chan bool, 4)
	srv.SetOnAvailable(func(up bool) { transitions <- up })

	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer srv.Close()

	conn := dialTestServer(t, srv)

	select {
	case up := <-transitions:
		if !up {
			t.Error("first transition = down, want up")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no availability transition on connect")
	}

	conn.Close()

	select {
	case up := <-transitions:
		if up {
			t.Error("second transition = up, want down")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no availability transition on disconnect")
	}
}

func TestServerRequestFullUpdateNotAvailable(t *testing.T) {
	srv, _, _ := startTestServer(t)

	if err := srv.RequestFullUpdate(); !errors.Is(err, ErrNotAvailable) {
		t.Errorf("RequestFullUpdate() error = %v, want ErrNotAvailable", err)
	}
}

func TestServerClosedOperations(t *testing.T) {
	srv, _, _ := startTestServer(t)
	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := srv.Start(); !errors.Is(err, ErrServerClosed) {
		t.Errorf("Start() after Close error = %v, want ErrServerClosed", err)
	}
	if err := srv.RequestFullUpdate(); !errors.Is(err, ErrServerClosed) {
		t.Errorf("RequestFullUpdate() after Close error = %v, want ErrServerClosed", err)
	}
}

// flakyListener fails the first few Accept calls the way a descriptor-
// exhausted listener would, then delegates to a real one.
type flakyListener struct {
	net.Listener

	mu       sync.Mutex
	failures int
}

func (l *flakyListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	if l.failures > 0 {
		l.failures--
		l.mu.Unlock()
		return nil, errors.New("accept tcp: too many open files")
	}
	l.mu.Unlock()
	return l.Listener.Accept()
}

func TestServerAcceptRetriesTransientErrors(t *testing.T) {
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	store := NewStore()
	dispatcher := NewDispatcher()
	srv := NewServer(Config{Host: "127.0.0.1", Port: 0}, store, dispatcher)
	srv.listener = &flakyListener{Listener: inner, failures: 3}
	t.Cleanup(func() { srv.Close() })

	srv.wg.Add(1)
	go srv.acceptLoop()

	conn, err := net.Dial("tcp", inner.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// The transient failures must not stop the accept loop.
	waitFor(t, "session up after transient accept errors", srv.IsAvailable)
}

func TestServerStoreSurvivesDisconnect(t *testing.T) {
	srv, store, _ := startTestServer(t)
	conn := dialTestServer(t, srv)
	waitFor(t, "session up", srv.IsAvailable)
	readFrame(t, conn, 1)

	frame, _ := EncodeAnalog(6, 500)
	conn.Write(frame)
	waitFor(t, "frame stored", func() bool { return store.HasAnalogValue(6) })

	conn.Close()
	waitFor(t, "session down", func() bool { return !srv.IsAvailable() })

	if v, ok := store.GetAnalog(6); !ok || v != 500 {
		t.Errorf("analog 6 after disconnect = %d, %v, want 500, true", v, ok)
	}
}

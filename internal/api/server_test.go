package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/adamjs83/creston-xsig-hassio/internal/bridge"
	"github.com/adamjs83/creston-xsig-hassio/internal/infrastructure/config"
	"github.com/adamjs83/creston-xsig-hassio/internal/infrastructure/logging"
	"github.com/adamjs83/creston-xsig-hassio/internal/xsig"
)

// fakePusher records join pushes and writes through to the store the
// way the real server does.
type fakePusher struct {
	mu        sync.Mutex
	store     *xsig.Store
	available bool
	stats     xsig.Stats
	digital   map[uint16]bool
	analog    map[uint16]int
	serial    map[uint16]string
}

func newFakePusher(store *xsig.Store) *fakePusher {
	return &fakePusher{
		store:     store,
		available: true,
		digital:   make(map[uint16]bool),
		analog:    make(map[uint16]int),
		serial:    make(map[uint16]string),
	}
}

func (p *fakePusher) SetDigital(join uint16, value bool) error {
	if join < 1 || join > xsig.MaxDigitalJoin {
		return xsig.ErrInvalidJoin
	}
	p.mu.Lock()
	p.digital[join] = value
	p.mu.Unlock()
	p.store.SetDigital(join, value)
	return nil
}

func (p *fakePusher) SetAnalog(join uint16, value int) error {
	if join < 1 || join > xsig.MaxAnalogJoin {
		return xsig.ErrInvalidJoin
	}
	p.mu.Lock()
	p.analog[join] = value
	p.mu.Unlock()
	p.store.SetAnalog(join, value)
	return nil
}

func (p *fakePusher) SetSerial(join uint16, value string) error {
	if join < 1 || join > xsig.MaxSerialJoin {
		return xsig.ErrInvalidJoin
	}
	p.mu.Lock()
	p.serial[join] = value
	p.mu.Unlock()
	p.store.SetSerial(join, value)
	return nil
}

func (p *fakePusher) IsAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

func (p *fakePusher) Stats() xsig.Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

type testAPI struct {
	server     *Server
	ts         *httptest.Server
	store      *xsig.Store
	dispatcher *xsig.Dispatcher
	pusher     *fakePusher
}

// startTestAPI builds a server around fakes and serves its router from
// an httptest listener, wiring the join event relay the way Start does.
func startTestAPI(t *testing.T) *testAPI {
	t.Helper()

	logger := logging.New(config.LoggingConfig{
		Level: "error", Format: "text", Output: "stdout",
	}, "test")

	store := xsig.NewStore()
	dispatcher := xsig.NewDispatcher()
	pusher := newFakePusher(store)

	server, err := New(Deps{
		WS: config.WebSocketConfig{
			MaxMessageSize: 4096, PingInterval: 30, PongTimeout: 30,
		},
		Logger:     logger,
		Store:      store,
		Pusher:     pusher,
		Dispatcher: dispatcher,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	server.hub = NewHub(server.wsCfg, logger)
	sub := dispatcher.Subscribe(func(u xsig.Update) {
		server.hub.Broadcast(channelJoinChanged, bridge.NewJoinStateMessage(u))
	})
	t.Cleanup(sub.Cancel)

	ts := httptest.NewServer(server.buildRouter())
	t.Cleanup(ts.Close)

	return &testAPI{server: server, ts: ts, store: store, dispatcher: dispatcher, pusher: pusher}
}

func (a *testAPI) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(a.ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s error = %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp, body
}

func (a *testAPI) put(t *testing.T, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, a.ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT %s error = %v", path, err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp, out
}

func TestNewRequiresDeps(t *testing.T) {
	logger := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	store := xsig.NewStore()

	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Store: store, Pusher: newFakePusher(store), Dispatcher: xsig.NewDispatcher()}},
		{"no store", Deps{Logger: logger, Pusher: newFakePusher(store), Dispatcher: xsig.NewDispatcher()}},
		{"no pusher", Deps{Logger: logger, Store: store, Dispatcher: xsig.NewDispatcher()}},
		{"no dispatcher", Deps{Logger: logger, Store: store, Pusher: newFakePusher(store)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	api := startTestAPI(t)

	resp, body := api.get(t, "/api/v1/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload["status"] != "ok" || payload["version"] != "test" {
		t.Errorf("payload = %v, want status ok version test", payload)
	}
	if payload["processor_connected"] != true {
		t.Errorf("processor_connected = %v, want true", payload["processor_connected"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	api := startTestAPI(t)
	api.store.SetDigital(1, true)
	api.store.SetSerial(2, "hi")
	api.pusher.stats = xsig.Stats{FramesRx: 5, Connected: true}

	resp, body := api.get(t, "/api/v1/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var payload struct {
		Processor xsig.Stats     `json:"processor"`
		Joins     map[string]int `json:"joins"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Processor.FramesRx != 5 {
		t.Errorf("FramesRx = %d, want 5", payload.Processor.FramesRx)
	}
	if payload.Joins["digital"] != 1 || payload.Joins["serial"] != 1 || payload.Joins["analog"] != 0 {
		t.Errorf("joins = %v, want digital 1 serial 1 analog 0", payload.Joins)
	}
}

func TestRequestIDHeader(t *testing.T) {
	api := startTestAPI(t)

	resp, _ := api.get(t, "/api/v1/health")
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestRequestIDPassthrough(t *testing.T) {
	api := startTestAPI(t)

	req, err := http.NewRequestWithContext(context.Background(),
		http.MethodGet, api.ts.URL+"/api/v1/health", nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("X-Request-ID", "fixed-id")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("X-Request-ID"); got != "fixed-id" {
		t.Errorf("X-Request-ID = %q, want fixed-id", got)
	}
}

func TestHealthCheck(t *testing.T) {
	api := startTestAPI(t)

	// Not started: no listener bound.
	if err := api.server.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start error = nil, want error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := api.server.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() with cancelled context error = nil, want error")
	}
}

func TestCloseBeforeStart(t *testing.T) {
	api := startTestAPI(t)
	if err := api.server.Close(); err != nil {
		t.Errorf("Close() before Start error = %v, want nil", err)
	}
}

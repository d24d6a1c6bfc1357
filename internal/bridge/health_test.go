package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/adamjs83/creston-xsig-hassio/internal/xsig"
)

// fakeHealthPublisher records health publishes.
type fakeHealthPublisher struct {
	mu        sync.Mutex
	publishes []recordedPublish
	connected bool
}

func (p *fakeHealthPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	p.publishes = append(p.publishes, recordedPublish{topic, cp, qos, retained})
	return nil
}

func (p *fakeHealthPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakeHealthPublisher) published() []recordedPublish {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]recordedPublish, len(p.publishes))
	copy(out, p.publishes)
	return out
}

// fakeProcessorLink reports fixed availability and stats.
type fakeProcessorLink struct {
	available bool
	stats     xsig.Stats
}

func (f *fakeProcessorLink) IsAvailable() bool { return f.available }
func (f *fakeProcessorLink) Stats() xsig.Stats { return f.stats }

func lastHealthMessage(t *testing.T, p *fakeHealthPublisher) HealthMessage {
	t.Helper()
	pubs := p.published()
	if len(pubs) == 0 {
		t.Fatal("no health publishes recorded")
	}
	last := pubs[len(pubs)-1]
	if last.topic != HealthTopic() {
		t.Errorf("health topic = %q, want %q", last.topic, HealthTopic())
	}
	if last.qos != 1 || !last.retained {
		t.Errorf("health qos/retained = %d/%v, want 1/true", last.qos, last.retained)
	}
	var msg HealthMessage
	if err := json.Unmarshal(last.payload, &msg); err != nil {
		t.Fatalf("unmarshal health payload: %v", err)
	}
	return msg
}

func TestHealthReporterPublishNowHealthy(t *testing.T) {
	publisher := &fakeHealthPublisher{connected: true}
	store := xsig.NewStore()
	store.SetDigital(1, true)
	store.SetAnalog(2, 100)

	reporter := NewHealthReporter(HealthReporterConfig{
		Version:   "1.2.3",
		Publisher: publisher,
		Server: &fakeProcessorLink{
			available: true,
			stats:     xsig.Stats{Connected: true, FramesRx: 7, FramesTx: 3},
		},
		Store: store,
	})

	if err := reporter.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	msg := lastHealthMessage(t, publisher)
	if msg.Status != HealthHealthy {
		t.Errorf("Status = %q, want healthy", msg.Status)
	}
	if msg.Reason != "" {
		t.Errorf("Reason = %q, want empty", msg.Reason)
	}
	if msg.Version != "1.2.3" {
		t.Errorf("Version = %q, want 1.2.3", msg.Version)
	}
	if !msg.Processor.Connected || msg.Processor.FramesRx != 7 || msg.Processor.FramesTx != 3 {
		t.Errorf("Processor = %+v, want connected with rx 7 tx 3", msg.Processor)
	}
	if msg.Joins.Digital != 1 || msg.Joins.Analog != 1 || msg.Joins.Serial != 0 {
		t.Errorf("Joins = %+v, want 1/1/0", msg.Joins)
	}
	if msg.ID == "" {
		t.Error("ID is empty")
	}
}

func TestHealthReporterDetermineStatus(t *testing.T) {
	tests := []struct {
		name       string
		connected  bool
		available  bool
		wantStatus HealthStatus
		wantReason string
	}{
		{"all up", true, true, HealthHealthy, ""},
		{"broker down", false, true, HealthDegraded, "MQTT disconnected"},
		{"processor down", true, false, HealthDegraded, "control processor disconnected"},
		{"all down", false, false, HealthDegraded, "MQTT disconnected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reporter := NewHealthReporter(HealthReporterConfig{
				Publisher: &fakeHealthPublisher{connected: tt.connected},
				Server:    &fakeProcessorLink{available: tt.available},
				Store:     xsig.NewStore(),
			})

			status, reason := reporter.determineStatus()
			if status != tt.wantStatus || reason != tt.wantReason {
				t.Errorf("determineStatus() = %q, %q, want %q, %q",
					status, reason, tt.wantStatus, tt.wantReason)
			}
		})
	}
}

func TestHealthReporterPublishStarting(t *testing.T) {
	publisher := &fakeHealthPublisher{connected: true}
	reporter := NewHealthReporter(HealthReporterConfig{
		Publisher: publisher,
		Server:    &fakeProcessorLink{},
		Store:     xsig.NewStore(),
	})

	if err := reporter.PublishStarting(); err != nil {
		t.Fatalf("PublishStarting() error = %v", err)
	}

	msg := lastHealthMessage(t, publisher)
	if msg.Status != HealthStarting {
		t.Errorf("Status = %q, want starting", msg.Status)
	}
}

func TestHealthReporterStopPublishesStopping(t *testing.T) {
	publisher := &fakeHealthPublisher{connected: true}
	reporter := NewHealthReporter(HealthReporterConfig{
		Interval:  time.Hour,
		Publisher: publisher,
		Server:    &fakeProcessorLink{available: true},
		Store:     xsig.NewStore(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reporter.Start(ctx)

	// The loop publishes once on startup.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(publisher.published()) == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	reporter.Stop()
	reporter.Stop() // idempotent

	msg := lastHealthMessage(t, publisher)
	if msg.Status != HealthStopping {
		t.Errorf("final Status = %q, want stopping", msg.Status)
	}
}

func TestHealthReporterNilPublisher(t *testing.T) {
	reporter := NewHealthReporter(HealthReporterConfig{
		Server: &fakeProcessorLink{},
		Store:  xsig.NewStore(),
	})

	if err := reporter.PublishNow(); err != nil {
		t.Errorf("PublishNow() with nil publisher error = %v, want nil", err)
	}
}

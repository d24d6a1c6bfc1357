package keypad

import (
	"errors"
	"sync"
	"testing"

	"github.com/adamjs83/creston-xsig-hassio/internal/bridge"
	"github.com/adamjs83/creston-xsig-hassio/internal/infrastructure/config"
)

type recordedLED struct {
	join  uint16
	value bool
}

type fakePusher struct {
	mu        sync.Mutex
	pushes    []recordedLED
	available bool
}

func (p *fakePusher) SetDigital(join uint16, value bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, recordedLED{join, value})
	return nil
}

func (p *fakePusher) IsAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

func (p *fakePusher) recorded() []recordedLED {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]recordedLED, len(p.pushes))
	copy(out, p.pushes)
	return out
}

func testDevice(t *testing.T) Device {
	t.Helper()
	dev, err := PlanDevice(config.KeypadConfig{
		Name: "hall", ButtonCount: 4, BaseJoin: 10,
	})
	if err != nil {
		t.Fatalf("PlanDevice() error = %v", err)
	}
	return dev
}

func TestBindingsForDevice(t *testing.T) {
	dev := testDevice(t)

	bindings, err := BindingsForDevice(dev, []config.LedBindingConfig{
		{Button: 1, EntityID: "light.hall"},
		{Button: 3, EntityID: "lock.front", Invert: true},
	})
	if err != nil {
		t.Fatalf("BindingsForDevice() error = %v", err)
	}
	if len(bindings) != 2 {
		t.Fatalf("got %d bindings, want 2", len(bindings))
	}
	if bindings[0].Join != 10 || bindings[1].Join != 16 {
		t.Errorf("binding joins = %d, %d, want press joins 10, 16",
			bindings[0].Join, bindings[1].Join)
	}
	if !bindings[1].Invert {
		t.Error("binding 2 Invert = false, want true")
	}
}

func TestBindingsForDeviceErrors(t *testing.T) {
	dev := testDevice(t)

	tests := []struct {
		name string
		cfg  config.LedBindingConfig
	}{
		{"button zero", config.LedBindingConfig{Button: 0, EntityID: "light.hall"}},
		{"button past count", config.LedBindingConfig{Button: 5, EntityID: "light.hall"}},
		{"missing entity", config.LedBindingConfig{Button: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BindingsForDevice(dev, []config.LedBindingConfig{tt.cfg})
			if !errors.Is(err, ErrInvalidBinding) {
				t.Errorf("BindingsForDevice() error = %v, want ErrInvalidBinding", err)
			}
		})
	}
}

func startTestBindings(t *testing.T, available bool, cfgs []config.LedBindingConfig) (*BindingManager, *fakePusher, *bridge.StateCache) {
	t.Helper()

	bindings, err := BindingsForDevice(testDevice(t), cfgs)
	if err != nil {
		t.Fatalf("BindingsForDevice() error = %v", err)
	}

	pusher := &fakePusher{available: available}
	cache := bridge.NewStateCache()
	manager := NewBindingManager(pusher, cache, bindings, nil)
	manager.Start()
	return manager, pusher, cache
}

func TestBindingManagerPushesOnStateChange(t *testing.T) {
	manager, pusher, cache := startTestBindings(t, true, []config.LedBindingConfig{
		{Button: 2, EntityID: "light.hall"},
	})

	cache.Set("light.hall", bridge.EntityState{State: "on"})
	cache.Set("light.hall", bridge.EntityState{State: "off"})
	cache.Set("light.other", bridge.EntityState{State: "on"}) // unbound

	pushes := pusher.recorded()
	want := []recordedLED{{13, true}, {13, false}}
	if len(pushes) != len(want) {
		t.Fatalf("recorded %d pushes, want %d", len(pushes), len(want))
	}
	for i := range want {
		if pushes[i] != want[i] {
			t.Errorf("push %d = %+v, want %+v", i, pushes[i], want[i])
		}
	}
	if manager.Pushes() != 2 {
		t.Errorf("Pushes() = %d, want 2", manager.Pushes())
	}
}

func TestBindingManagerInvert(t *testing.T) {
	_, pusher, cache := startTestBindings(t, true, []config.LedBindingConfig{
		{Button: 1, EntityID: "cover.garage", Invert: true},
	})

	cache.Set("cover.garage", bridge.EntityState{State: "closed"})

	pushes := pusher.recorded()
	if len(pushes) != 1 || !pushes[0].value {
		t.Fatalf("pushes = %+v, want single inverted push of true", pushes)
	}
}

func TestBindingManagerSkipsWhileUnavailable(t *testing.T) {
	_, pusher, cache := startTestBindings(t, false, []config.LedBindingConfig{
		{Button: 1, EntityID: "light.hall"},
	})

	cache.Set("light.hall", bridge.EntityState{State: "on"})

	if pushes := pusher.recorded(); len(pushes) != 0 {
		t.Errorf("recorded %d pushes while unavailable, want 0", len(pushes))
	}
}

func TestBindingManagerSyncAll(t *testing.T) {
	manager, pusher, cache := startTestBindings(t, true, []config.LedBindingConfig{
		{Button: 1, EntityID: "light.hall"},
		{Button: 2, EntityID: "sensor.never_seen"},
	})

	cache.Set("light.hall", bridge.EntityState{State: "on"})
	before := len(pusher.recorded())

	// Only the entity with known state replays; the unseen one is
	// skipped rather than forced off.
	manager.SyncAll()

	pushes := pusher.recorded()
	if len(pushes) != before+1 {
		t.Fatalf("sync produced %d pushes, want 1", len(pushes)-before)
	}
	last := pushes[len(pushes)-1]
	if last.join != 10 || !last.value {
		t.Errorf("sync push = %+v, want join 10 true", last)
	}
}

func TestBindingManagerLen(t *testing.T) {
	manager, _, _ := startTestBindings(t, true, []config.LedBindingConfig{
		{Button: 1, EntityID: "light.hall"},
		{Button: 2, EntityID: "light.hall"},
	})
	if manager.Len() != 2 {
		t.Errorf("Len() = %d, want 2", manager.Len())
	}
}

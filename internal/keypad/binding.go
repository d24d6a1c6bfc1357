package keypad

import (
	"fmt"
	"sync/atomic"

	"github.com/adamjs83/creston-xsig-hassio/internal/bridge"
	"github.com/adamjs83/creston-xsig-hassio/internal/infrastructure/config"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// DigitalPusher pushes LED booleans to the control processor.
// Satisfied by *xsig.Server.
type DigitalPusher interface {
	SetDigital(join uint16, value bool) error
	IsAvailable() bool
}

// StateSource provides entity states and change notification.
// Satisfied by *bridge.StateCache.
type StateSource interface {
	States(entityID string) string
	OnChange(cb func(entityID string, state bridge.EntityState))
}

// Binding joins one button LED to an external entity's state. The
// button's press join doubles as its LED feedback join.
type Binding struct {
	Device   string
	Button   int
	Join     uint16
	EntityID string
	Invert   bool
}

// BindingsForDevice resolves a device's LED binding configuration
// against its planned button layout.
func BindingsForDevice(dev Device, cfgs []config.LedBindingConfig) ([]Binding, error) {
	bindings := make([]Binding, 0, len(cfgs))
	for _, cfg := range cfgs {
		if cfg.Button < 1 || cfg.Button > len(dev.Buttons) {
			return nil, fmt.Errorf("%w: %q button %d, device has %d buttons",
				ErrInvalidBinding, dev.Name, cfg.Button, len(dev.Buttons))
		}
		if cfg.EntityID == "" {
			return nil, fmt.Errorf("%w: %q button %d has no entity",
				ErrInvalidBinding, dev.Name, cfg.Button)
		}
		bindings = append(bindings, Binding{
			Device:   dev.Name,
			Button:   cfg.Button,
			Join:     dev.Buttons[cfg.Button-1].Press,
			EntityID: cfg.EntityID,
			Invert:   cfg.Invert,
		})
	}
	return bindings, nil
}

// BindingManager tracks bound entity states and keeps button LEDs in
// step with them.
//
// On every bound entity's state change the mapped boolean is pushed to
// the button's digital join through the same availability-gated path
// the sync engine uses. SyncAll replays every binding, used when the
// processor reconnects or requests a full update.
type BindingManager struct {
	byEntity map[string][]Binding
	all      []Binding
	pusher   DigitalPusher
	states   StateSource

	pushesTotal atomic.Uint64

	logger Logger
}

// NewBindingManager creates a binding manager.
// Call Start to begin tracking entity state changes.
func NewBindingManager(pusher DigitalPusher, states StateSource, bindings []Binding, logger Logger) *BindingManager {
	m := &BindingManager{
		byEntity: make(map[string][]Binding),
		all:      bindings,
		pusher:   pusher,
		states:   states,
		logger:   logger,
	}
	for _, b := range bindings {
		m.byEntity[b.EntityID] = append(m.byEntity[b.EntityID], b)
	}
	return m
}

// Start hooks bound entity state changes.
func (m *BindingManager) Start() {
	m.states.OnChange(m.handleStateChange)
	m.logInfo("LED binding manager started", "bindings", len(m.all))
}

// Len returns the number of active bindings.
func (m *BindingManager) Len() int {
	return len(m.all)
}

// Pushes returns the number of LED pushes performed.
func (m *BindingManager) Pushes() uint64 {
	return m.pushesTotal.Load()
}

// SyncAll pushes every binding whose entity has reported state.
func (m *BindingManager) SyncAll() {
	for _, b := range m.all {
		state := m.states.States(b.EntityID)
		if state == "unknown" {
			continue
		}
		m.push(b, state)
	}
}

func (m *BindingManager) handleStateChange(entityID string, state bridge.EntityState) {
	for _, b := range m.byEntity[entityID] {
		m.push(b, state.State)
	}
}

func (m *BindingManager) push(b Binding, state string) {
	if !m.pusher.IsAvailable() {
		m.logDebug("LED push skipped, no control processor",
			"device", b.Device, "button", b.Button)
		return
	}

	value := MapStateToLED(state, b.Invert)
	if err := m.pusher.SetDigital(b.Join, value); err != nil {
		m.logWarn("LED push failed",
			"device", b.Device, "button", b.Button, "join", b.Join, "error", err.Error())
		return
	}

	m.pushesTotal.Add(1)
	m.logDebug("LED updated",
		"device", b.Device, "button", b.Button, "entity_id", b.EntityID,
		"state", state, "led", value)
}

// Logging helpers (nil-safe).

func (m *BindingManager) logDebug(msg string, keysAndValues ...any) {
	if m.logger != nil {
		m.logger.Debug(msg, keysAndValues...)
	}
}

func (m *BindingManager) logInfo(msg string, keysAndValues ...any) {
	if m.logger != nil {
		m.logger.Info(msg, keysAndValues...)
	}
}

func (m *BindingManager) logWarn(msg string, keysAndValues ...any) {
	if m.logger != nil {
		m.logger.Warn(msg, keysAndValues...)
	}
}

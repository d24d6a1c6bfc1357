package bridge

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"text/template"

	"github.com/adamjs83/creston-xsig-hassio/internal/xsig"
)

// unknownState is the state string for entities the cache has never
// seen. Rules rendering it are skipped rather than pushed as zeros.
const unknownState = "unknown"

// EntityState is one entity's last known state and attributes.
type EntityState struct {
	State      string
	Attributes map[string]any
}

// StateCache holds the last known state of every entity seen on the
// state topics. Safe for concurrent use.
type StateCache struct {
	mu       sync.RWMutex
	entities map[string]EntityState
	onChange []func(entityID string, state EntityState)
}

// NewStateCache creates an empty cache.
func NewStateCache() *StateCache {
	return &StateCache{entities: make(map[string]EntityState)}
}

// Set stores an entity's state, replacing any previous one, and
// notifies change observers.
func (c *StateCache) Set(entityID string, state EntityState) {
	c.mu.Lock()
	c.entities[entityID] = state
	observers := c.onChange
	c.mu.Unlock()

	for _, cb := range observers {
		cb(entityID, state)
	}
}

// OnChange registers an observer called after every Set. Observers run
// on the caller's goroutine and must not block.
func (c *StateCache) OnChange(cb func(entityID string, state EntityState)) {
	c.mu.Lock()
	c.onChange = append(c.onChange, cb)
	c.mu.Unlock()
}

// Get returns an entity's state and whether it has been seen.
func (c *StateCache) Get(entityID string) (EntityState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.entities[entityID]
	return st, ok
}

// States returns the entity's state string, or "unknown" when the
// entity has never been seen. Exposed to templates as states.
func (c *StateCache) States(entityID string) string {
	st, ok := c.Get(entityID)
	if !ok {
		return unknownState
	}
	return st.State
}

// StateAttr returns one attribute of an entity, or nil when the
// entity or attribute is missing. Exposed to templates as state_attr.
func (c *StateCache) StateAttr(entityID, attribute string) any {
	st, ok := c.Get(entityID)
	if !ok {
		return nil
	}
	return st.Attributes[attribute]
}

// Len returns the number of cached entities.
func (c *StateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entities)
}

// FuncMap exposes the cache to value templates.
func (c *StateCache) FuncMap() template.FuncMap {
	return template.FuncMap{
		"states":     c.States,
		"state_attr": c.StateAttr,
	}
}

// renderContext is the dot value for from-join data templates.
type renderContext struct {
	// Value is the join value that fired the rule, stringified:
	// "on"/"off" for digital, decimal for analog, raw for serial.
	Value string
}

// joinValueString renders a join update's value for template binding.
func joinValueString(u xsig.Update) string {
	switch u.Kind {
	case xsig.JoinDigital:
		if u.Digital {
			return "on"
		}
		return "off"
	case xsig.JoinAnalog:
		return strconv.Itoa(int(u.Analog))
	case xsig.JoinSerial:
		return u.Serial
	default:
		return ""
	}
}

// skippable reports whether a rendered source value should not be
// pushed: empty and unknown results mean the entity has no usable
// state yet.
func skippable(rendered string) bool {
	switch rendered {
	case "", unknownState, "unavailable", "None", "<no value>":
		return true
	default:
		return false
	}
}

// coerceDigital converts a rendered value to a digital join state.
func coerceDigital(rendered string) (bool, error) {
	switch strings.ToLower(rendered) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q is not a digital value", ErrCoercion, rendered)
	}
}

// coerceAnalog converts a rendered value to an analog join value.
// Fractional values are truncated; the store clamps the range.
func coerceAnalog(rendered string) (int, error) {
	if n, err := strconv.Atoi(rendered); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(rendered, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an analog value", ErrCoercion, rendered)
	}
	return int(f), nil
}

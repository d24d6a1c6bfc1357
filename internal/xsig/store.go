package xsig

import "sync"

// Store holds the last known value of every join, both directions.
//
// A join has no value until the first set; getters report this through
// their ok result. Values survive control processor disconnects so a
// reconnecting processor can be brought back up to date.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Each set updates value and received flag under one lock, so a
//     reader never sees a flag without its value.
type Store struct {
	mu      sync.RWMutex
	digital map[uint16]bool
	analog  map[uint16]uint16
	serial  map[uint16]string
}

// NewStore creates an empty join store.
func NewStore() *Store {
	return &Store{
		digital: make(map[uint16]bool),
		analog:  make(map[uint16]uint16),
		serial:  make(map[uint16]string),
	}
}

// SetDigital records a digital join value.
// Returns true if the value changed (or was set for the first time).
func (s *Store) SetDigital(join uint16, value bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.digital[join]
	s.digital[join] = value
	return !ok || old != value
}

// SetAnalog records an analog join value, clamped to [0, 65535].
// Returns true if the value changed (or was set for the first time).
func (s *Store) SetAnalog(join uint16, value int) bool {
	if value < 0 {
		value = 0
	}
	if value > MaxAnalogValue {
		value = MaxAnalogValue
	}
	v := uint16(value)

	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.analog[join]
	s.analog[join] = v
	return !ok || old != v
}

// SetSerial records a serial join value.
// Returns true if the value changed (or was set for the first time).
func (s *Store) SetSerial(join uint16, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.serial[join]
	s.serial[join] = value
	return !ok || old != value
}

// GetDigital returns a digital join's value and whether it has one.
func (s *Store) GetDigital(join uint16) (bool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.digital[join]
	return v, ok
}

// GetAnalog returns an analog join's value and whether it has one.
func (s *Store) GetAnalog(join uint16) (uint16, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.analog[join]
	return v, ok
}

// GetSerial returns a serial join's value and whether it has one.
func (s *Store) GetSerial(join uint16) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.serial[join]
	return v, ok
}

// HasDigitalValue reports whether a digital join has ever been set.
func (s *Store) HasDigitalValue(join uint16) bool {
	_, ok := s.GetDigital(join)
	return ok
}

// HasAnalogValue reports whether an analog join has ever been set.
func (s *Store) HasAnalogValue(join uint16) bool {
	_, ok := s.GetAnalog(join)
	return ok
}

// HasSerialValue reports whether a serial join has ever been set.
func (s *Store) HasSerialValue(join uint16) bool {
	_, ok := s.GetSerial(join)
	return ok
}

// Snapshot is a point-in-time copy of every join with a value.
type Snapshot struct {
	Digital map[uint16]bool
	Analog  map[uint16]uint16
	Serial  map[uint16]string
}

// Snapshot copies the current state of all three namespaces.
// The returned maps are owned by the caller.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Digital: make(map[uint16]bool, len(s.digital)),
		Analog:  make(map[uint16]uint16, len(s.analog)),
		Serial:  make(map[uint16]string, len(s.serial)),
	}
	for k, v := range s.digital {
		snap.Digital[k] = v
	}
	for k, v := range s.analog {
		snap.Analog[k] = v
	}
	for k, v := range s.serial {
		snap.Serial[k] = v
	}
	return snap
}

// Counts returns how many joins of each kind have values.
// Used by the health reporter.
func (s *Store) Counts() (digital, analog, serial int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.digital), len(s.analog), len(s.serial)
}

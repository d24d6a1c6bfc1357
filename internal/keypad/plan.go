package keypad

import (
	"fmt"

	"github.com/adamjs83/creston-xsig-hassio/internal/infrastructure/config"
	"github.com/adamjs83/creston-xsig-hassio/internal/xsig"
)

const (
	// MinButtonCount and MaxButtonCount bound supported keypad sizes.
	MinButtonCount = 2
	MaxButtonCount = 6

	// joinsPerButton: press, double press, hold.
	joinsPerButton = 3

	// DefaultMaxJoin is the digital join ceiling used when the caller
	// passes no explicit limit.
	DefaultMaxJoin = xsig.MaxDigitalJoin
)

// ButtonJoins is one button's digital join assignment.
type ButtonJoins struct {
	Press       uint16
	DoublePress uint16
	Hold        uint16
}

// Plan computes a sequential join layout for a keypad.
//
// Button i (1-indexed) presses on base+(i-1)*3, with double press and
// hold on the two following joins, so an N-button device occupies N*3
// consecutive digital joins starting at base.
//
// Parameters:
//   - base: press join of button 1
//   - count: number of buttons (2-6)
//   - maxJoin: highest usable digital join (0 means DefaultMaxJoin)
//
// Returns:
//   - []ButtonJoins: one entry per button, in button order
//   - error: ErrButtonCount or ErrJoinRange
func Plan(base, count, maxJoin int) ([]ButtonJoins, error) {
	if maxJoin <= 0 {
		maxJoin = DefaultMaxJoin
	}
	if count < MinButtonCount || count > MaxButtonCount {
		return nil, fmt.Errorf("%w: %d buttons, want %d-%d",
			ErrButtonCount, count, MinButtonCount, MaxButtonCount)
	}
	if base < 1 {
		return nil, fmt.Errorf("%w: base join %d", ErrJoinRange, base)
	}
	if highest := base + count*joinsPerButton - 1; highest > maxJoin {
		return nil, fmt.Errorf("%w: %d buttons from base %d need joins up to %d, maximum is %d",
			ErrJoinRange, count, base, highest, maxJoin)
	}

	buttons := make([]ButtonJoins, count)
	for i := range buttons {
		press := base + i*joinsPerButton
		buttons[i] = ButtonJoins{
			Press:       uint16(press),
			DoublePress: uint16(press + 1),
			Hold:        uint16(press + 2),
		}
	}
	return buttons, nil
}

// PlanManual validates explicit per-button join assignments.
//
// Only format and range are checked; duplicate joins across the whole
// device set are the caller's responsibility.
func PlanManual(buttons []config.ButtonJoinsConfig, maxJoin int) ([]ButtonJoins, error) {
	if maxJoin <= 0 {
		maxJoin = DefaultMaxJoin
	}
	if len(buttons) < MinButtonCount || len(buttons) > MaxButtonCount {
		return nil, fmt.Errorf("%w: %d buttons, want %d-%d",
			ErrButtonCount, len(buttons), MinButtonCount, MaxButtonCount)
	}

	out := make([]ButtonJoins, len(buttons))
	for i, b := range buttons {
		for _, join := range []int{b.Press, b.DoublePress, b.Hold} {
			if join < 1 || join > maxJoin {
				return nil, fmt.Errorf("%w: button %d join %d, want 1-%d",
					ErrJoinRange, i+1, join, maxJoin)
			}
		}
		out[i] = ButtonJoins{
			Press:       uint16(b.Press),
			DoublePress: uint16(b.DoublePress),
			Hold:        uint16(b.Hold),
		}
	}
	return out, nil
}

// Device is a planned keypad with resolved button joins.
type Device struct {
	Name    string
	Buttons []ButtonJoins

	// LoadJoin is the analog join carrying the lighting load level,
	// 0 when the device has none.
	LoadJoin uint16
}

// PlanDevice resolves a keypad configuration into a device layout.
// Sequential mode when BaseJoin is set, manual mode when Buttons are
// listed; exactly one must be present.
func PlanDevice(cfg config.KeypadConfig) (Device, error) {
	var (
		buttons []ButtonJoins
		err     error
	)
	switch {
	case cfg.BaseJoin > 0 && len(cfg.Buttons) > 0:
		return Device{}, fmt.Errorf("%w: %q sets both base_join and buttons",
			ErrInvalidDevice, cfg.Name)
	case cfg.BaseJoin > 0:
		count := cfg.ButtonCount
		buttons, err = Plan(cfg.BaseJoin, count, DefaultMaxJoin)
	case len(cfg.Buttons) > 0:
		if cfg.ButtonCount > 0 && cfg.ButtonCount != len(cfg.Buttons) {
			return Device{}, fmt.Errorf("%w: %q declares %d buttons but lists %d",
				ErrInvalidDevice, cfg.Name, cfg.ButtonCount, len(cfg.Buttons))
		}
		buttons, err = PlanManual(cfg.Buttons, DefaultMaxJoin)
	default:
		return Device{}, fmt.Errorf("%w: %q has neither base_join nor buttons",
			ErrInvalidDevice, cfg.Name)
	}
	if err != nil {
		return Device{}, fmt.Errorf("device %q: %w", cfg.Name, err)
	}

	if cfg.LoadJoin < 0 || cfg.LoadJoin > xsig.MaxAnalogJoin {
		return Device{}, fmt.Errorf("%w: %q load join %d, want 1-%d",
			ErrJoinRange, cfg.Name, cfg.LoadJoin, xsig.MaxAnalogJoin)
	}

	return Device{
		Name:     cfg.Name,
		Buttons:  buttons,
		LoadJoin: uint16(cfg.LoadJoin),
	}, nil
}

package keypad

import (
	"errors"
	"testing"

	"github.com/adamjs83/creston-xsig-hassio/internal/infrastructure/config"
)

func TestPlanSequential(t *testing.T) {
	buttons, err := Plan(10, 4, 0)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	want := []ButtonJoins{
		{Press: 10, DoublePress: 11, Hold: 12},
		{Press: 13, DoublePress: 14, Hold: 15},
		{Press: 16, DoublePress: 17, Hold: 18},
		{Press: 19, DoublePress: 20, Hold: 21},
	}
	if len(buttons) != len(want) {
		t.Fatalf("Plan() returned %d buttons, want %d", len(buttons), len(want))
	}
	for i := range want {
		if buttons[i] != want[i] {
			t.Errorf("button %d = %+v, want %+v", i+1, buttons[i], want[i])
		}
	}
}

func TestPlanRangeLimit(t *testing.T) {
	// Six buttons from base 10 occupy joins 10-27.
	if _, err := Plan(10, 6, 27); err != nil {
		t.Errorf("Plan(10, 6, 27) error = %v, want nil", err)
	}
	if _, err := Plan(10, 6, 26); !errors.Is(err, ErrJoinRange) {
		t.Errorf("Plan(10, 6, 26) error = %v, want ErrJoinRange", err)
	}
}

func TestPlanErrors(t *testing.T) {
	tests := []struct {
		name    string
		base    int
		count   int
		maxJoin int
		wantErr error
	}{
		{"one button", 10, 1, 0, ErrButtonCount},
		{"seven buttons", 10, 7, 0, ErrButtonCount},
		{"zero base", 0, 2, 0, ErrJoinRange},
		{"negative base", -3, 2, 0, ErrJoinRange},
		{"past default ceiling", 4092, 2, 0, ErrJoinRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Plan(tt.base, tt.count, tt.maxJoin)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Plan(%d, %d, %d) error = %v, want %v",
					tt.base, tt.count, tt.maxJoin, err, tt.wantErr)
			}
		})
	}
}

func TestPlanDefaultCeiling(t *testing.T) {
	// Two buttons ending exactly on join 4096.
	buttons, err := Plan(4091, 2, 0)
	if err != nil {
		t.Fatalf("Plan(4091, 2, 0) error = %v", err)
	}
	if buttons[1].Hold != 4096 {
		t.Errorf("last hold join = %d, want 4096", buttons[1].Hold)
	}
}

func TestPlanManual(t *testing.T) {
	buttons, err := PlanManual([]config.ButtonJoinsConfig{
		{Press: 5, DoublePress: 40, Hold: 41},
		{Press: 9, DoublePress: 50, Hold: 51},
	}, 0)
	if err != nil {
		t.Fatalf("PlanManual() error = %v", err)
	}
	if buttons[0].Press != 5 || buttons[1].DoublePress != 50 {
		t.Errorf("buttons = %+v, want explicit joins preserved", buttons)
	}
}

func TestPlanManualErrors(t *testing.T) {
	tests := []struct {
		name    string
		buttons []config.ButtonJoinsConfig
		wantErr error
	}{
		{"too few", []config.ButtonJoinsConfig{{Press: 1, DoublePress: 2, Hold: 3}}, ErrButtonCount},
		{"zero join", []config.ButtonJoinsConfig{
			{Press: 1, DoublePress: 2, Hold: 3},
			{Press: 0, DoublePress: 5, Hold: 6},
		}, ErrJoinRange},
		{"join past ceiling", []config.ButtonJoinsConfig{
			{Press: 1, DoublePress: 2, Hold: 3},
			{Press: 4, DoublePress: 5, Hold: 4097},
		}, ErrJoinRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := PlanManual(tt.buttons, 0); !errors.Is(err, tt.wantErr) {
				t.Errorf("PlanManual() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPlanDevice(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.KeypadConfig
		wantErr error
	}{
		{
			name: "sequential",
			cfg:  config.KeypadConfig{Name: "hall", ButtonCount: 3, BaseJoin: 30},
		},
		{
			name: "manual",
			cfg: config.KeypadConfig{Name: "hall", Buttons: []config.ButtonJoinsConfig{
				{Press: 1, DoublePress: 2, Hold: 3},
				{Press: 4, DoublePress: 5, Hold: 6},
			}},
		},
		{
			name: "manual with load join",
			cfg: config.KeypadConfig{Name: "hall", LoadJoin: 7, Buttons: []config.ButtonJoinsConfig{
				{Press: 1, DoublePress: 2, Hold: 3},
				{Press: 4, DoublePress: 5, Hold: 6},
			}},
		},
		{
			name:    "both modes",
			cfg:     config.KeypadConfig{Name: "hall", BaseJoin: 30, Buttons: []config.ButtonJoinsConfig{{Press: 1, DoublePress: 2, Hold: 3}}},
			wantErr: ErrInvalidDevice,
		},
		{
			name:    "neither mode",
			cfg:     config.KeypadConfig{Name: "hall", ButtonCount: 3},
			wantErr: ErrInvalidDevice,
		},
		{
			name: "count mismatch",
			cfg: config.KeypadConfig{Name: "hall", ButtonCount: 3, Buttons: []config.ButtonJoinsConfig{
				{Press: 1, DoublePress: 2, Hold: 3},
				{Press: 4, DoublePress: 5, Hold: 6},
			}},
			wantErr: ErrInvalidDevice,
		},
		{
			name:    "load join past analog ceiling",
			cfg:     config.KeypadConfig{Name: "hall", ButtonCount: 2, BaseJoin: 30, LoadJoin: 1025},
			wantErr: ErrJoinRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, err := PlanDevice(tt.cfg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("PlanDevice() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("PlanDevice() error = %v", err)
			}
			if dev.Name != tt.cfg.Name {
				t.Errorf("Name = %q, want %q", dev.Name, tt.cfg.Name)
			}
			if tt.cfg.LoadJoin > 0 && dev.LoadJoin != uint16(tt.cfg.LoadJoin) {
				t.Errorf("LoadJoin = %d, want %d", dev.LoadJoin, tt.cfg.LoadJoin)
			}
		})
	}
}

package adapter

import "testing"

func TestClampVolume(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{0.5, 0.5},
		{1.5, 1.0},
		{-0.2, 0.0},
		{0, 0},
		{1, 1},
	}
	for _, tc := range cases {
		if got := ClampVolume(tc.in); got != tc.want {
			t.Errorf("ClampVolume(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSessionProgress(t *testing.T) {
	s := Session{PositionMs: 30000, DurationMs: 120000}
	if got := s.Progress(); got != 0.25 {
		t.Errorf("progress = %v, want 0.25", got)
	}
	if got := (Session{}).Progress(); got != 0 {
		t.Errorf("zero duration progress = %v", got)
	}
	over := Session{PositionMs: 150000, DurationMs: 120000}
	if got := over.Progress(); got != 1 {
		t.Errorf("overrun progress = %v, want 1", got)
	}
}

func TestStateActive(t *testing.T) {
	for s, want := range map[State]bool{
		StateUninitialized:      false,
		StateAwaitingCredential: false,
		StateAwaitingDevice:     false,
		StateReady:              false,
		StatePlaying:            true,
		StatePaused:             true,
		StateStopped:            false,
	} {
		if got := s.Active(); got != want {
			t.Errorf("%v.Active() = %v, want %v", s, got, want)
		}
	}
}

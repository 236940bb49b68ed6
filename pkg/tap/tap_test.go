package tap

import "testing"

func TestNextStateTable(t *testing.T) {
	cases := []struct {
		start State
		tms   bool
		end   State
	}{
		{StateTestLogicReset, false, StateRunTestIdle},
		{StateTestLogicReset, true, StateTestLogicReset},
		{StateRunTestIdle, true, StateSelectDRScan},
		{StateSelectDRScan, false, StateCaptureDR},
		{StateShiftDR, true, StateExit1DR},
		{StateExit2DR, false, StateShiftDR},
		{StateSelectIRScan, true, StateTestLogicReset},
		{StateCaptureIR, false, StateShiftIR},
		{StatePauseIR, true, StateExit2IR},
		{StateExit2IR, true, StateUpdateIR},
		{StateUpdateIR, false, StateRunTestIdle},
	}

	for _, tc := range cases {
		if got := NextState(tc.start, tc.tms); got != tc.end {
			t.Fatalf("NextState(%s, %v) = %s, want %s", tc.start, tc.tms, got, tc.end)
		}
	}
}

func TestKernelEnumOrder(t *testing.T) {
	// Values are passed to the kernel driver unchanged.
	want := map[State]uint8{
		StateTestLogicReset: 0,
		StateRunTestIdle:    1,
		StatePauseDR:        6,
		StatePauseIR:        13,
		StateUpdateIR:       15,
	}
	for s, v := range want {
		if uint8(s) != v {
			t.Errorf("%s = %d, want %d", s, uint8(s), v)
		}
	}
}

func TestResetFromAnyState(t *testing.T) {
	for s := State(0); s < numStates; s++ {
		m := &StateMachine{state: s}
		seq := m.Reset()
		if m.State() != StateTestLogicReset {
			t.Errorf("Reset from %s ended in %s", s, m.State())
		}
		if len(seq.TMS) != 5 || len(seq.States) != 6 {
			t.Errorf("Reset from %s: %d bits, %d states", s, len(seq.TMS), len(seq.States))
		}
	}
}

func TestPath(t *testing.T) {
	tests := []struct {
		from, to State
		want     []bool
	}{
		{StateRunTestIdle, StateShiftIR, []bool{true, true, false, false}},
		{StateRunTestIdle, StateShiftDR, []bool{true, false, false}},
		{StateShiftIR, StatePauseIR, []bool{true, false}},
		{StatePauseIR, StateShiftDR, []bool{true, true, true, false, false}},
		{StateShiftDR, StateRunTestIdle, []bool{true, true, false}},
		{StateTestLogicReset, StateRunTestIdle, []bool{false}},
		{StateRunTestIdle, StateRunTestIdle, nil},
	}

	for _, tt := range tests {
		seq, err := Path(tt.from, tt.to)
		if err != nil {
			t.Fatalf("Path(%s, %s): %v", tt.from, tt.to, err)
		}
		if len(seq.TMS) != len(tt.want) {
			t.Fatalf("Path(%s, %s) = %v, want %v", tt.from, tt.to, seq.TMS, tt.want)
		}
		for i := range tt.want {
			if seq.TMS[i] != tt.want[i] {
				t.Fatalf("Path(%s, %s) = %v, want %v", tt.from, tt.to, seq.TMS, tt.want)
			}
		}

		// Replaying the TMS bits must land on the target and match States.
		s := tt.from
		for i, bit := range seq.TMS {
			s = NextState(s, bit)
			if seq.States[i+1] != s {
				t.Fatalf("Path(%s, %s) state %d = %s, want %s", tt.from, tt.to, i+1, seq.States[i+1], s)
			}
		}
		if s != tt.to {
			t.Fatalf("Path(%s, %s) ends in %s", tt.from, tt.to, s)
		}
	}
}

func TestPathInvalid(t *testing.T) {
	if _, err := Path(numStates, StateRunTestIdle); err == nil {
		t.Fatal("Path from invalid state succeeded")
	}
	if _, err := Path(StateRunTestIdle, State(200)); err == nil {
		t.Fatal("Path to invalid state succeeded")
	}
}

func TestGoToAndIdle(t *testing.T) {
	m := NewStateMachine()
	if _, err := m.GoTo(StateShiftDR); err != nil {
		t.Fatalf("GoTo: %v", err)
	}
	if m.State() != StateShiftDR {
		t.Fatalf("State() = %s, want ShiftDR", m.State())
	}
	seq, err := m.Idle(3)
	if err != nil {
		t.Fatalf("Idle: %v", err)
	}
	// Exit1DR, UpdateDR, RunTestIdle, then three idle clocks.
	if len(seq.TMS) != 6 {
		t.Fatalf("Idle sequence = %v", seq.TMS)
	}
	if m.State() != StateRunTestIdle {
		t.Fatalf("State() = %s, want RunTestIdle", m.State())
	}
}

func TestStableAndParse(t *testing.T) {
	for _, s := range []State{StateTestLogicReset, StateRunTestIdle, StatePauseDR, StatePauseIR} {
		if !s.Stable() {
			t.Errorf("%s should be stable", s)
		}
	}
	if StateShiftDR.Stable() {
		t.Error("ShiftDR should not be stable")
	}

	for in, want := range map[string]State{
		"idle":         StateRunTestIdle,
		"PauseIR":      StatePauseIR,
		"StatePauseDR": StatePauseDR,
		"reset":        StateTestLogicReset,
	} {
		got, err := ParseState(in)
		if err != nil || got != want {
			t.Errorf("ParseState(%q) = %s, %v; want %s", in, got, err, want)
		}
	}
	if _, err := ParseState("nowhere"); err == nil {
		t.Error("ParseState(nowhere) succeeded")
	}
}

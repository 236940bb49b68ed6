// Package tap models the IEEE 1149.1 TAP controller.
//
// State values follow the Linux JTAG uapi enum (jtag_tapstate), so a State can
// be handed to the kernel driver as an end state without translation.
package tap

import (
	"fmt"
	"strings"
)

// State is one of the 16 TAP controller states.
type State uint8

const (
	StateTestLogicReset State = iota
	StateRunTestIdle
	StateSelectDRScan
	StateCaptureDR
	StateShiftDR
	StateExit1DR
	StatePauseDR
	StateExit2DR
	StateUpdateDR
	StateSelectIRScan
	StateCaptureIR
	StateShiftIR
	StateExit1IR
	StatePauseIR
	StateExit2IR
	StateUpdateIR

	numStates
)

var stateNames = [numStates]string{
	"TestLogicReset", "RunTestIdle",
	"SelectDRScan", "CaptureDR", "ShiftDR", "Exit1DR", "PauseDR", "Exit2DR", "UpdateDR",
	"SelectIRScan", "CaptureIR", "ShiftIR", "Exit1IR", "PauseIR", "Exit2IR", "UpdateIR",
}

func (s State) String() string {
	if s.Valid() {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Valid reports whether s names a TAP state.
func (s State) Valid() bool { return s < numStates }

// Stable reports whether the controller can idle in s with TMS held.
// Shift transfers may only end in a stable state.
func (s State) Stable() bool {
	switch s {
	case StateTestLogicReset, StateRunTestIdle, StatePauseDR, StatePauseIR:
		return true
	}
	return false
}

// ParseState accepts a state name, case-insensitively, with or without the
// "State" prefix, plus the short forms "idle", "reset", "pausedr", "pauseir".
func ParseState(name string) (State, error) {
	n := strings.ToLower(strings.TrimPrefix(name, "State"))
	switch n {
	case "idle", "rti":
		return StateRunTestIdle, nil
	case "reset", "tlr":
		return StateTestLogicReset, nil
	}
	for i, s := range stateNames {
		if strings.ToLower(s) == n {
			return State(i), nil
		}
	}
	return 0, fmt.Errorf("tap: unknown state %q", name)
}

// next[s][tms] is the state after one TCK edge.
var next = [numStates][2]State{
	StateTestLogicReset: {StateRunTestIdle, StateTestLogicReset},
	StateRunTestIdle:    {StateRunTestIdle, StateSelectDRScan},
	StateSelectDRScan:   {StateCaptureDR, StateSelectIRScan},
	StateCaptureDR:      {StateShiftDR, StateExit1DR},
	StateShiftDR:        {StateShiftDR, StateExit1DR},
	StateExit1DR:        {StatePauseDR, StateUpdateDR},
	StatePauseDR:        {StatePauseDR, StateExit2DR},
	StateExit2DR:        {StateShiftDR, StateUpdateDR},
	StateUpdateDR:       {StateRunTestIdle, StateSelectDRScan},
	StateSelectIRScan:   {StateCaptureIR, StateTestLogicReset},
	StateCaptureIR:      {StateShiftIR, StateExit1IR},
	StateShiftIR:        {StateShiftIR, StateExit1IR},
	StateExit1IR:        {StatePauseIR, StateUpdateIR},
	StatePauseIR:        {StatePauseIR, StateExit2IR},
	StateExit2IR:        {StateShiftIR, StateUpdateIR},
	StateUpdateIR:       {StateRunTestIdle, StateSelectDRScan},
}

// NextState returns the state reached from current after one clock with tms.
// It panics on an invalid state.
func NextState(current State, tms bool) State {
	if !current.Valid() {
		panic(fmt.Sprintf("tap: invalid state %d", current))
	}
	if tms {
		return next[current][1]
	}
	return next[current][0]
}

// Sequence is a TMS pattern and the states it walks through. States has one
// more entry than TMS: the starting state.
type Sequence struct {
	TMS    []bool
	States []State
}

// Path returns the shortest TMS sequence from one state to another.
func Path(from, to State) (Sequence, error) {
	if !from.Valid() {
		return Sequence{}, fmt.Errorf("tap: invalid start state %d", from)
	}
	if !to.Valid() {
		return Sequence{}, fmt.Errorf("tap: invalid target state %d", to)
	}
	if from == to {
		return Sequence{States: []State{from}}, nil
	}

	// Breadth-first over the 16-node graph, remembering the edge used to
	// reach every state.
	var (
		seen   [numStates]bool
		prev   [numStates]State
		prevTM [numStates]bool
	)
	seen[from] = true
	queue := []State{from}
	for len(queue) > 0 && !seen[to] {
		cur := queue[0]
		queue = queue[1:]
		for _, bit := range [2]bool{false, true} {
			n := NextState(cur, bit)
			if seen[n] {
				continue
			}
			seen[n], prev[n], prevTM[n] = true, cur, bit
			queue = append(queue, n)
		}
	}

	var seq Sequence
	for s := to; s != from; s = prev[s] {
		seq.TMS = append(seq.TMS, prevTM[s])
		seq.States = append(seq.States, s)
	}
	seq.States = append(seq.States, from)
	reverseBools(seq.TMS)
	reverseStates(seq.States)
	return seq, nil
}

func reverseBools(b []bool) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

func reverseStates(s []State) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// StateMachine tracks the controller state on the host side. It does no I/O.
type StateMachine struct {
	state State
}

// NewStateMachine starts in Test-Logic-Reset.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateTestLogicReset}
}

func (m *StateMachine) State() State { return m.state }

// Clock applies one TCK edge.
func (m *StateMachine) Clock(tms bool) State {
	m.state = NextState(m.state, tms)
	return m.state
}

// Reset clocks five TMS=1 edges, which reaches Test-Logic-Reset from any state.
func (m *StateMachine) Reset() Sequence {
	seq := Sequence{TMS: make([]bool, 5), States: make([]State, 0, 6)}
	seq.States = append(seq.States, m.state)
	for i := range seq.TMS {
		seq.TMS[i] = true
		seq.States = append(seq.States, m.Clock(true))
	}
	return seq
}

// GoTo moves the machine to target along the shortest path and returns it.
func (m *StateMachine) GoTo(target State) (Sequence, error) {
	seq, err := Path(m.state, target)
	if err != nil {
		return Sequence{}, err
	}
	m.state = target
	return seq, nil
}

// Idle returns a sequence holding TMS low for n clocks in Run-Test/Idle,
// moving there first if needed.
func (m *StateMachine) Idle(n int) (Sequence, error) {
	seq, err := m.GoTo(StateRunTestIdle)
	if err != nil {
		return Sequence{}, err
	}
	for i := 0; i < n; i++ {
		seq.TMS = append(seq.TMS, false)
		seq.States = append(seq.States, StateRunTestIdle)
	}
	return seq, nil
}

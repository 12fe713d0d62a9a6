package pipeline

import (
	"errors"
	"fmt"
)

// State is a step of one document's extraction lifecycle
type State string

const (
	StatePending       State = "PENDING"
	StateTextLayerOK   State = "TEXT_LAYER_OK"
	StateOCRMultipass  State = "OCR_MULTIPASS"
	StateFieldsLocated State = "FIELDS_LOCATED"
	StateNormalized    State = "NORMALIZED"
	StateValidated     State = "VALIDATED"
	StateScored        State = "SCORED"
	StateConfirmed     State = "CONFIRMED"
	StateNeedsFallback State = "NEEDS_FALLBACK"
	StateRenormalized  State = "RENORMALIZED"
	StateRevalidated   State = "REVALIDATED"
)

// ErrIllegalTransition is returned when a state change is not allowed
var ErrIllegalTransition = errors.New("illegal state transition")

// REVALIDATED may loop back to RENORMALIZED when the reviewer edits again
var transitions = map[State][]State{
	StatePending:       {StateTextLayerOK, StateOCRMultipass},
	StateTextLayerOK:   {StateFieldsLocated},
	StateOCRMultipass:  {StateFieldsLocated},
	StateFieldsLocated: {StateNormalized},
	StateNormalized:    {StateValidated},
	StateValidated:     {StateScored},
	StateScored:        {StateConfirmed, StateNeedsFallback},
	StateNeedsFallback: {StateRenormalized},
	StateRenormalized:  {StateRevalidated},
	StateRevalidated:   {StateConfirmed, StateRenormalized},
}

// CanTransition reports whether s may move to next
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// machine tracks one document's state and the path it took
type machine struct {
	state   State
	history []State
}

func newMachine(start State) *machine {
	return &machine{state: start, history: []State{start}}
}

func (m *machine) to(next State) error {
	if !m.state.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.state, next)
	}
	m.state = next
	m.history = append(m.history, next)
	return nil
}

// walk applies every step in order, stopping at the first illegal one
func (m *machine) walk(steps ...State) error {
	for _, s := range steps {
		if err := m.to(s); err != nil {
			return err
		}
	}
	return nil
}

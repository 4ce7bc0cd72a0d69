package lesson

import "fmt"

// row maps the events a state reacts to onto the next state.
// Kinds missing from a row leave the state unchanged.
type row map[EventKind]State

// transitions lists a row for every state. init verifies it is exhaustive
// so a new state cannot silently fall through to identity.
var transitions = map[State]row{
	StateIntro: {
		KindStart: StateExplain,
	},
	StateExplain: {
		KindConfusion:   StateSimplify,
		KindDeepen:      StateAdvanced,
		KindDistraction: StateBreak,
		KindSkip:        StateChallenge,
		KindComplete:    StateChallenge,
	},
	StateSimplify: {
		KindUnderstood:    StateExplain,
		KindStillConfused: StateAnalogy,
		KindSkip:          StateChallenge,
		KindTimeout:       StateBreak,
	},
	StateAdvanced: {
		KindConfusion: StateExplain,
		KindSkip:      StateChallenge,
		KindComplete:  StateChallenge,
	},
	StateAnalogy: {
		KindUnderstood: StateExplain,
		KindSkip:       StateChallenge,
		KindTimeout:    StateBreak,
	},
	StateBreak: {
		KindStart: StateExplain,
		KindSkip:  StateChallenge,
	},
	StateChallenge: {
		KindSkip:     StateProve,
		KindComplete: StateProve,
		KindTimeout:  StateFeedback,
	},
	StateProve: {
		KindSkip:      StateFeedback,
		KindSubmitted: StateFeedback,
		KindTimeout:   StateFeedback,
	},
	StateFeedback: {
		KindComplete: StateComplete,
	},
	StateComplete: {},
}

func init() {
	if err := validateTable(transitions); err != nil {
		panic(err)
	}
}

func validateTable(t map[State]row) error {
	kinds := make(map[EventKind]bool)
	for _, k := range AllEventKinds() {
		kinds[k] = true
	}
	for _, s := range AllStates() {
		if _, ok := t[s]; !ok {
			return fmt.Errorf("lesson: transition table has no row for %q", s)
		}
	}
	for from, r := range t {
		if !from.Valid() {
			return fmt.Errorf("lesson: transition table row for unknown state %q", from)
		}
		for k, to := range r {
			if !kinds[k] {
				return fmt.Errorf("lesson: %q reacts to unknown event %q", from, k)
			}
			if !to.Valid() {
				return fmt.Errorf("lesson: %q --%s--> unknown state %q", from, k, to)
			}
		}
	}
	return nil
}

// Next returns the state reached from s on an event of kind k.
// Pairs absent from the table return s unchanged.
func Next(s State, k EventKind) State {
	if to, ok := transitions[s][k]; ok {
		return to
	}
	return s
}

// VariantFor derives the content variant after entering s.
// States that do not select content keep prev.
func VariantFor(s State, prev Variant) Variant {
	switch s {
	case StateExplain:
		return VariantNormal
	case StateSimplify, StateAnalogy:
		return VariantSimplified
	case StateAdvanced:
		return VariantAdvanced
	default:
		return prev
	}
}

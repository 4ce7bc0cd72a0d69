// Package lesson models lesson content and the lesson-flow state machine.
package lesson

import (
	"errors"
	"fmt"
	"strings"
)

// State is a lesson-flow state.
type State string

const (
	StateIntro     State = "intro"
	StateExplain   State = "explain"
	StateSimplify  State = "simplify"
	StateAdvanced  State = "advanced"
	StateAnalogy   State = "analogy"
	StateBreak     State = "break"
	StateChallenge State = "challenge"
	StateProve     State = "prove"
	StateFeedback  State = "feedback"
	StateComplete  State = "complete"
)

// AllStates returns every state in declaration order.
func AllStates() []State {
	return []State{
		StateIntro, StateExplain, StateSimplify, StateAdvanced, StateAnalogy,
		StateBreak, StateChallenge, StateProve, StateFeedback, StateComplete,
	}
}

// Valid reports whether s is one of the declared states.
func (s State) Valid() bool {
	for _, known := range AllStates() {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition can leave s.
func (s State) Terminal() bool { return s == StateComplete }

// Plays reports whether segment content is presented in s.
func (s State) Plays() bool {
	switch s {
	case StateExplain, StateSimplify, StateAdvanced, StateAnalogy:
		return true
	}
	return false
}

// Variant is the depth of explanation used for segment content.
type Variant string

const (
	VariantNormal     Variant = "normal"
	VariantSimplified Variant = "simplified"
	VariantAdvanced   Variant = "advanced"
)

// AllVariants returns every variant.
func AllVariants() []Variant {
	return []Variant{VariantNormal, VariantSimplified, VariantAdvanced}
}

// SegmentContent is one variant of a segment.
type SegmentContent struct {
	Text     string   `yaml:"text" json:"text"`
	Code     string   `yaml:"code,omitempty" json:"code,omitempty"`
	Emphasis []string `yaml:"emphasis,omitempty" json:"emphasis,omitempty"`
	// Rate is the target speaking rate handed to synthesis; 0 means provider default.
	Rate float64 `yaml:"rate,omitempty" json:"rate,omitempty"`
}

// Words splits the display text into the units revealed one at a time.
func (c SegmentContent) Words() []string {
	return strings.Fields(c.Text)
}

// Segment is one teachable unit with a content record per variant.
type Segment struct {
	ID         string         `yaml:"id" json:"id"`
	Concept    string         `yaml:"concept" json:"concept"`
	Normal     SegmentContent `yaml:"normal" json:"normal"`
	Simplified SegmentContent `yaml:"simplified" json:"simplified"`
	Advanced   SegmentContent `yaml:"advanced" json:"advanced"`
}

// Content returns the record for v. Unknown variants read as normal.
func (s Segment) Content(v Variant) SegmentContent {
	switch v {
	case VariantSimplified:
		return s.Simplified
	case VariantAdvanced:
		return s.Advanced
	default:
		return s.Normal
	}
}

// Lesson is an ordered list of segments.
type Lesson struct {
	ID       string    `yaml:"id" json:"id"`
	Title    string    `yaml:"title" json:"title"`
	Segments []Segment `yaml:"segments" json:"segments"`
}

// Lesson validation errors
var (
	ErrNoLessonID  = errors.New("lesson id is required")
	ErrNoSegments  = errors.New("lesson has no segments")
	ErrNoSegmentID = errors.New("segment id is required")
)

// Validate checks the structural requirements the scheduler relies on.
func (l *Lesson) Validate() error {
	if strings.TrimSpace(l.ID) == "" {
		return ErrNoLessonID
	}
	if len(l.Segments) == 0 {
		return ErrNoSegments
	}
	for i, seg := range l.Segments {
		if strings.TrimSpace(seg.ID) == "" {
			return &SegmentError{Index: i, Err: ErrNoSegmentID}
		}
	}
	return nil
}

// SegmentError locates a validation failure.
type SegmentError struct {
	Index int
	Err   error
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("segment %d: %v", e.Index, e.Err)
}

func (e *SegmentError) Unwrap() error { return e.Err }

package lesson

import "time"

// EventKind names a lesson event.
type EventKind string

const (
	KindStart         EventKind = "START"
	KindConfusion     EventKind = "CONFUSION"
	KindDeepen        EventKind = "DEEPEN"
	KindDistraction   EventKind = "DISTRACTION"
	KindUnderstood    EventKind = "UNDERSTOOD"
	KindStillConfused EventKind = "STILL_CONFUSED"
	KindSkip          EventKind = "SKIP"
	KindComplete      EventKind = "COMPLETE"
	KindSubmitted     EventKind = "SUBMITTED"
	KindTimeout       EventKind = "TIMEOUT"
)

// AllEventKinds returns every event kind.
func AllEventKinds() []EventKind {
	return []EventKind{
		KindStart, KindConfusion, KindDeepen, KindDistraction, KindUnderstood,
		KindStillConfused, KindSkip, KindComplete, KindSubmitted, KindTimeout,
	}
}

// Event is a closed sum type: only the types in this file implement it.
type Event interface {
	Kind() EventKind
	At() time.Time
	sealed()
}

// Start begins the lesson, or resumes it from a break.
type Start struct{ Time time.Time }

// Confusion asks for a simpler explanation.
type Confusion struct {
	Time time.Time
	// Source is what raised the event, e.g. a voice command token.
	Source string
}

// Deepen asks for the advanced explanation.
type Deepen struct {
	Time   time.Time
	Source string
}

// Distraction sends the learner to a break.
type Distraction struct {
	Time      time.Time
	Attention float64
}

// Understood returns from a simplified explanation.
type Understood struct{ Time time.Time }

// StillConfused escalates from simplify to an analogy.
type StillConfused struct {
	Time   time.Time
	Source string
}

// Skip jumps ahead in the flow.
type Skip struct {
	Time   time.Time
	Source string
}

// Complete marks the current phase as finished.
type Complete struct {
	Time time.Time
	// Segments is how many segments were played when content finished.
	Segments int
}

// Submitted carries the learner's proof submission.
type Submitted struct {
	Time       time.Time
	Submission string
}

// Timeout marks a phase that ran out of time.
type Timeout struct {
	Time  time.Time
	Phase State
}

func (e Start) Kind() EventKind         { return KindStart }
func (e Confusion) Kind() EventKind     { return KindConfusion }
func (e Deepen) Kind() EventKind        { return KindDeepen }
func (e Distraction) Kind() EventKind   { return KindDistraction }
func (e Understood) Kind() EventKind    { return KindUnderstood }
func (e StillConfused) Kind() EventKind { return KindStillConfused }
func (e Skip) Kind() EventKind          { return KindSkip }
func (e Complete) Kind() EventKind      { return KindComplete }
func (e Submitted) Kind() EventKind     { return KindSubmitted }
func (e Timeout) Kind() EventKind       { return KindTimeout }

func (e Start) At() time.Time         { return e.Time }
func (e Confusion) At() time.Time     { return e.Time }
func (e Deepen) At() time.Time        { return e.Time }
func (e Distraction) At() time.Time   { return e.Time }
func (e Understood) At() time.Time    { return e.Time }
func (e StillConfused) At() time.Time { return e.Time }
func (e Skip) At() time.Time          { return e.Time }
func (e Complete) At() time.Time      { return e.Time }
func (e Submitted) At() time.Time     { return e.Time }
func (e Timeout) At() time.Time       { return e.Time }

func (Start) sealed()         {}
func (Confusion) sealed()     {}
func (Deepen) sealed()        {}
func (Distraction) sealed()   {}
func (Understood) sealed()    {}
func (StillConfused) sealed() {}
func (Skip) sealed()          {}
func (Complete) sealed()      {}
func (Submitted) sealed()     {}
func (Timeout) sealed()       {}

// NewEvent builds the zero-payload event of kind k, for callers that only
// have a kind name (HTTP, CLI scripts). It returns false for unknown kinds.
func NewEvent(k EventKind, at time.Time) (Event, bool) {
	switch k {
	case KindStart:
		return Start{Time: at}, true
	case KindConfusion:
		return Confusion{Time: at}, true
	case KindDeepen:
		return Deepen{Time: at}, true
	case KindDistraction:
		return Distraction{Time: at}, true
	case KindUnderstood:
		return Understood{Time: at}, true
	case KindStillConfused:
		return StillConfused{Time: at}, true
	case KindSkip:
		return Skip{Time: at}, true
	case KindComplete:
		return Complete{Time: at}, true
	case KindSubmitted:
		return Submitted{Time: at}, true
	case KindTimeout:
		return Timeout{Time: at}, true
	}
	return nil, false
}

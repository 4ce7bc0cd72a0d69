package sensing

import "sync"

// BreakAdvisor watches window emissions and suggests a break after a run of
// distracted windows. It never changes lesson state itself.
type BreakAdvisor struct {
	mu        sync.Mutex
	after     int
	streak    int
	suggested bool
	onSuggest func(State)
}

// NewBreakAdvisor suggests a break after `after` consecutive windows that
// are looking away or bored. after <= 0 disables it.
func NewBreakAdvisor(after int, onSuggest func(State)) *BreakAdvisor {
	return &BreakAdvisor{after: after, onSuggest: onSuggest}
}

// SetThreshold changes the streak length and restarts counting.
func (b *BreakAdvisor) SetThreshold(after int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.after = after
	b.streak = 0
	b.suggested = false
}

// Observe records one emission and reports whether a suggestion fired.
// Voice-command emissions are ignored. A streak suggests once.
func (b *BreakAdvisor) Observe(s State) bool {
	if s.HasCommand() {
		return false
	}

	b.mu.Lock()
	if b.after <= 0 {
		b.mu.Unlock()
		return false
	}
	if !s.LookingAway && !s.Bored {
		b.streak = 0
		b.suggested = false
		b.mu.Unlock()
		return false
	}
	b.streak++
	fire := b.streak >= b.after && !b.suggested
	if fire {
		b.suggested = true
	}
	fn := b.onSuggest
	b.mu.Unlock()

	if fire && fn != nil {
		fn(s)
	}
	return fire
}

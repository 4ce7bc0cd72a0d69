// Package adapt maps the current lesson state and the latest sensing
// snapshot onto a lesson event.
//
// Only voice commands produce events. Gaze and face signals are exposed for
// display and break suggestions but never move the lesson on their own.
package adapt

import (
	"github.com/normanking/cortexlearn/internal/lesson"
	"github.com/normanking/cortexlearn/internal/sensing"
	"github.com/normanking/cortexlearn/internal/voice"
)

// Decide returns the event for (state, s), or nil when nothing should
// happen. Rules are checked in order and the first match wins. The event
// is stamped with the snapshot's timestamp so equal inputs give equal
// outputs.
func Decide(state lesson.State, s sensing.State) lesson.Event {
	cmd := s.LastVoiceCommand
	at := s.Timestamp
	source := string(cmd)

	switch {
	case cmd == voice.CommandDeepen && state == lesson.StateExplain:
		return lesson.Deepen{Time: at, Source: source}
	case cmd == voice.CommandSimplify && (state == lesson.StateExplain || state == lesson.StateAdvanced):
		return lesson.Confusion{Time: at, Source: source}
	case cmd == voice.CommandSkip:
		return lesson.Skip{Time: at, Source: source}
	case cmd == voice.CommandConfused && state == lesson.StateSimplify:
		return lesson.StillConfused{Time: at, Source: source}
	case cmd == voice.CommandConfused:
		return lesson.Confusion{Time: at, Source: source}
	}
	return nil
}

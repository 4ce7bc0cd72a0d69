package voice

import (
	"strings"
	"unicode"
)

type phrase struct {
	text    string
	command Command
}

// phrases are checked in order; the first one found in the transcript wins.
// Confusion comes before simplify so "I'm confused, make it simpler" is
// reported as confusion.
var phrases = []phrase{
	{"still confused", CommandConfused},
	{"don't understand", CommandConfused},
	{"dont understand", CommandConfused},
	{"i'm lost", CommandConfused},
	{"confused", CommandConfused},
	{"confusing", CommandConfused},

	{"simplify", CommandSimplify},
	{"simpler", CommandSimplify},
	{"too hard", CommandSimplify},
	{"explain simply", CommandSimplify},

	{"go deeper", CommandDeepen},
	{"deeper", CommandDeepen},
	{"deepen", CommandDeepen},
	{"more detail", CommandDeepen},
	{"advanced", CommandDeepen},

	{"show me the code", CommandShowCode},
	{"show code", CommandShowCode},
	{"show the code", CommandShowCode},

	{"example", CommandExample},

	{"skip", CommandSkip},
	{"move on", CommandSkip},
	{"next", CommandSkip},

	{"pause", CommandPause},
	{"stop", CommandPause},
	{"wait", CommandPause},

	{"repeat", CommandRepeat},
	{"say that again", CommandRepeat},
	{"again", CommandRepeat},

	{"help", CommandHelp},
}

// Resolver maps free-form recognizer transcripts to commands.
type Resolver struct {
	filter *Filter
}

// NewResolver creates a resolver using fillerWords (nil for the defaults).
func NewResolver(fillerWords []string) *Resolver {
	return &Resolver{filter: NewFilter(fillerWords)}
}

// Filter exposes the resolver's filler filter for reconfiguration.
func (r *Resolver) Filter() *Filter { return r.filter }

// Resolve returns the command spoken in transcript. A bare token such as
// "SHOW_CODE" is accepted as-is.
func (r *Resolver) Resolve(transcript string) (Command, bool) {
	if c, err := Parse(transcript); err == nil {
		return c, true
	}

	cleaned, ok := r.filter.Clean(transcript)
	if !ok {
		return CommandNone, false
	}
	padded := " " + normalize(cleaned) + " "
	for _, p := range phrases {
		if strings.Contains(padded, " "+p.text+" ") {
			return p.command, true
		}
	}
	return CommandNone, false
}

// normalize lowercases s and replaces punctuation other than apostrophes
// with spaces.
func normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\'' || r == '’':
			return '\''
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return unicode.ToLower(r)
		default:
			return ' '
		}
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

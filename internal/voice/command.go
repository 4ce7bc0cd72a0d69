// Package voice resolves spoken input into lesson commands.
package voice

import (
	"errors"
	"fmt"
	"strings"
)

// Command is a recognized voice command token.
type Command string

// Command vocabulary. CommandNone means no command.
const (
	CommandNone     Command = ""
	CommandDeepen   Command = "DEEPEN"
	CommandSimplify Command = "SIMPLIFY"
	CommandShowCode Command = "SHOW_CODE"
	CommandExample  Command = "EXAMPLE"
	CommandSkip     Command = "SKIP"
	CommandPause    Command = "PAUSE"
	CommandRepeat   Command = "REPEAT"
	CommandHelp     Command = "HELP"
	CommandConfused Command = "CONFUSED"
)

// ErrUnknownCommand is returned by Parse for tokens outside the vocabulary.
var ErrUnknownCommand = errors.New("unknown voice command")

// AllCommands returns the full vocabulary.
func AllCommands() []Command {
	return []Command{
		CommandDeepen, CommandSimplify, CommandShowCode, CommandExample, CommandSkip,
		CommandPause, CommandRepeat, CommandHelp, CommandConfused,
	}
}

// Valid reports whether c is part of the vocabulary.
func (c Command) Valid() bool {
	for _, known := range AllCommands() {
		if c == known {
			return true
		}
	}
	return false
}

// Parse reads a command token. Matching ignores case, and spaces or
// dashes may stand in for the underscore ("show code", "show-code").
func Parse(token string) (Command, error) {
	norm := strings.ToUpper(strings.TrimSpace(token))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	c := Command(norm)
	if !c.Valid() {
		return CommandNone, fmt.Errorf("%w: %q", ErrUnknownCommand, token)
	}
	return c, nil
}

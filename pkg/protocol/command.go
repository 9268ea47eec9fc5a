package protocol

import (
	"errors"
	"strings"
)

// Separator splits a command line into verb and arguments.
const Separator = "|"

// ErrEmptyCommand is returned for a blank command line.
var ErrEmptyCommand = errors.New("empty command")

// Command is one decoded request: VERB|arg1|arg2|...
type Command struct {
	Verb string
	Args []string
}

// ParseCommand splits line on Separator. Surrounding whitespace and line
// terminators are ignored; fields are kept verbatim, empty ones included.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, ErrEmptyCommand
	}

	parts := strings.Split(line, Separator)
	return Command{Verb: parts[0], Args: parts[1:]}, nil
}

// Arg returns the i-th argument or "" if absent.
func (c Command) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

// Rest rejoins arguments from i onwards, so a final field may itself
// contain the separator (a password, for instance).
func (c Command) Rest(i int) string {
	if i >= len(c.Args) {
		return ""
	}
	return strings.Join(c.Args[i:], Separator)
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Verb
	}
	return c.Verb + Separator + strings.Join(c.Args, Separator)
}

package console

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/term"
)

// IsTerminal reports whether fd is attached to a terminal.
func IsTerminal(fd int) bool {
	return term.IsTerminal(fd)
}

// TerminalPasswordReader reads passwords from the terminal at fd without
// echoing them.
func TerminalPasswordReader(fd int, out io.Writer) PasswordReader {
	return func(prompt string) (string, error) {
		fmt.Fprint(out, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
}

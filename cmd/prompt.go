package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/launchpad-dev/launchpad-cli/pkg/formatter"
)

// confirm asks a yes/no question on stdin. Without a terminal it answers no.
func confirm(out *formatter.Output, question string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false
	}
	fmt.Fprintf(out.Writer(), "%s [y/N]: ", question)
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// promptSecret reads a secret from the terminal without echo, or a single
// line from stdin when it is not a terminal.
func promptSecret(out *formatter.Output, prompt string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("failed to read token from stdin: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	fmt.Fprint(out.Writer(), prompt)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(out.Writer())
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	return strings.TrimSpace(string(secret)), nil
}

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// confirmDestructive prompts y/N on a real terminal and returns the answer.
// On a non-interactive stdin (pipe, script, cron) it refuses automatically:
// a destructive action must be explicit (--force), never assumed from a
// prompt that nobody could have answered.
func confirmDestructive(prompt string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false
	}
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

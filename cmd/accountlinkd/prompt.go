package main

import (
	"bufio"
	"fmt"
	"strings"

	"golang.org/x/term"
)

// confirm asks for the exact answer on an interactive terminal. Without a
// terminal the caller must pass --yes.
func confirm(env *environment, question string, answer string) (bool, error) {
	if env.stdin == nil || !term.IsTerminal(int(env.stdin.Fd())) {
		return false, fmt.Errorf("confirmation requires a terminal; pass --yes to skip it")
	}
	fmt.Fprint(env.stderr, question)
	line, err := bufio.NewReader(env.stdin).ReadString('\n')
	if err != nil && line == "" {
		return false, err
	}
	return strings.TrimSpace(line) == answer, nil
}

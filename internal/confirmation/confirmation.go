// Package confirmation gates operations that cannot be undone behind an
// explicit operator acknowledgement read from the terminal.
package confirmation

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

// Service prompts the operator before a destructive restore proceeds.
type Service interface {
	// ConfirmDestructiveRestore reports whether the operator approved
	// dropping and recreating the database behind target. database names
	// an override destination and may be empty. When autoApprove is set
	// the prompt is skipped entirely.
	ConfirmDestructiveRestore(target, database string, autoApprove bool) (bool, error)
}

type service struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewService returns a Service that prompts on stdin and writes to stdout.
func NewService() Service {
	return &service{
		reader: bufio.NewReader(os.Stdin),
		out:    os.Stdout,
	}
}

// ConfirmDestructiveRestore describes what is about to be lost, then demands
// the target name typed back. A single stray keystroke must not be able to
// approve a drop, so anything other than an exact match aborts.
func (s *service) ConfirmDestructiveRestore(target, database string, autoApprove bool) (bool, error) {
	if database != "" {
		fmt.Fprintf(s.out, "Destructive restore drops and recreates database %q on target %s.\n", database, target)
	} else {
		fmt.Fprintf(s.out, "Destructive restore drops and recreates the configured database of target %s.\n", target)
	}
	fmt.Fprintln(s.out, "Rows written since the artifact was taken are lost. This cannot be undone.")

	if autoApprove {
		fmt.Fprintln(s.out, "Skipping confirmation (--yes).")
		return true, nil
	}

	interruptChan := make(chan os.Signal, 1)
	signal.Notify(interruptChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interruptChan)

	inputChan := make(chan string, 1)
	errorChan := make(chan error, 1)

	go func() {
		input, err := s.promptForTarget(target)
		if err != nil {
			errorChan <- err
			return
		}
		inputChan <- input
	}()

	select {
	case <-interruptChan:
		fmt.Fprintln(s.out, "\nRestore cancelled.")
		return false, nil
	case err := <-errorChan:
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	case input := <-inputChan:
		return matchesTarget(input, target), nil
	}
}

func (s *service) promptForTarget(target string) (string, error) {
	fmt.Fprintf(s.out, "Type the target name (%s) to continue: ", target)

	input, err := s.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return input, nil
}

// matchesTarget is case-sensitive: target names are case-sensitive in the
// configuration and the prompt is a safety gate, not a convenience.
func matchesTarget(input, target string) bool {
	return strings.TrimSpace(input) == target
}

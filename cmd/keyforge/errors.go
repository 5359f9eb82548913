package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/buger/goterm"

	"github.com/keyforge-dev/keyforge-go"
)

// friendlyError is an error whose message can be shown to the user as is.
type friendlyError struct {
	message string
}

func (err friendlyError) Error() string {
	return err.message
}

func newFriendlyError(f string, args ...interface{}) error {
	return friendlyError{fmt.Sprintf(f, args...)}
}

// printableMessage returns the message to show for err.
func printableMessage(err error) string {
	var friendly friendlyError
	if errors.As(err, &friendly) {
		return friendly.message
	}

	var apiErr *keyforge.Error
	if errors.As(err, &apiErr) {
		msg := fmt.Sprintf("%s (%s)", apiErr.Message, apiErr.Code)
		var refreshErr *keyforge.RefreshError
		if errors.As(err, &refreshErr) && refreshErr.DidRefresh {
			msg += "; a new token was fetched but rejected"
		}
		return msg
	}

	if errors.Is(err, keyforge.ErrTokenNotFound) {
		return "No stored token. Run `keyforge activate` first."
	}
	return err.Error()
}

func handleFatalError(err error) {
	fmt.Fprintln(os.Stderr, goterm.Color("FATAL ERROR", goterm.RED))
	fmt.Fprintln(os.Stderr, printableMessage(err))
	os.Exit(1)
}

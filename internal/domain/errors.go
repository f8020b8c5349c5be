package domain

import "errors"

var (
	// ErrNoActiveTarget means there is no page or session to operate on.
	ErrNoActiveTarget = errors.New("no active target")
	// ErrNoMessagesFound means every extraction chain came back empty.
	ErrNoMessagesFound = errors.New("no messages found")
	// ErrNoInputFound means no visible input control matched the site chain.
	ErrNoInputFound = errors.New("no input found")
	// ErrInjectionUnverified means every write strategy failed read-back.
	ErrInjectionUnverified = errors.New("injection unverified")
	// ErrBackendUnreachable means every backend endpoint failed. It is
	// recorded on the acquisition result and never returned to callers.
	ErrBackendUnreachable = errors.New("backend unreachable")
	// ErrMalformedResponse marks a 2xx reply that did not carry three replies.
	ErrMalformedResponse = errors.New("malformed backend response")
)

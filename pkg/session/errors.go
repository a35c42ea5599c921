package session

import (
	"errors"
	"fmt"
	"time"
)

// ErrTopicClosed is returned for operations against a coordinator that has
// shut down.
var ErrTopicClosed = errors.New("topic closed")

// Reply rejection reason, reported alongside the validation reasons.
const ReasonUnknownReplyTarget = "unknownReplyTarget"

// DenialError is a rate-limit refusal. It carries the machine reason and
// the wait after which a retry may succeed.
type DenialError struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("send denied (%s), retry after %s", e.Reason, e.RetryAfter)
}

// PersistenceError wraps a storage failure during send. The draft consumed
// no rate budget and was not broadcast.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return "persist message: " + e.Err.Error() }
func (e *PersistenceError) Unwrap() error { return e.Err }

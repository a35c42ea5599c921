package utils

import "github.com/google/uuid"

// NewMessageID returns a fresh message identifier.
func NewMessageID() string { return "msg_" + uuid.NewString() }

// NewConnectionID returns a fresh per-connection identifier.
func NewConnectionID() string { return "conn_" + uuid.NewString() }

// NewNotificationID returns a fresh system-notification identifier.
func NewNotificationID() string { return "ntf_" + uuid.NewString() }

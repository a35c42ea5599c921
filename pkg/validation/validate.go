package validation

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"chatcoord/pkg/models"
)

// Rejection reasons, stable strings carried on the wire. They share one
// camelCase register with the rate-limit denial reasons.
const (
	ReasonEmpty                  = "empty"
	ReasonTooLong                = "tooLong"
	ReasonMultipleAttachmentKind = "multipleAttachmentKinds"
)

// Error is a draft rejection with a machine-readable reason.
type Error struct {
	Reason string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// Rules governs draft validation.
type Rules struct {
	// MaxLen is the maximum message length in characters, not bytes.
	MaxLen int
}

var (
	rulesMu sync.RWMutex
	rules   = Rules{MaxLen: 2000}
)

// SetRules installs the process-wide validation rules.
func SetRules(r Rules) {
	rulesMu.Lock()
	defer rulesMu.Unlock()
	if r.MaxLen > 0 {
		rules = r
	}
}

// CurrentRules returns the active rules.
func CurrentRules() Rules {
	rulesMu.RLock()
	defer rulesMu.RUnlock()
	return rules
}

// ValidateDraft checks a draft against the active rules. Checks run in a
// fixed order so a draft failing several always reports the same reason:
// empty, then too long, then conflicting attachments. A draft carrying only
// an attachment and no text is fine.
func ValidateDraft(d models.Draft) error {
	r := CurrentRules()
	trimmed := strings.TrimSpace(d.Text)
	if trimmed == "" && d.AttachmentCount() == 0 {
		return &Error{Reason: ReasonEmpty}
	}
	// length is judged on the trimmed text; surrounding whitespace is free
	if n := utf8.RuneCountInString(trimmed); n > r.MaxLen {
		return &Error{Reason: ReasonTooLong, Detail: fmt.Sprintf("%d > %d chars", n, r.MaxLen)}
	}
	if d.AttachmentCount() > 1 {
		return &Error{Reason: ReasonMultipleAttachmentKind}
	}
	return nil
}

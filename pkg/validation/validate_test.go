package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcoord/pkg/models"
)

func reasonOf(t *testing.T, err error) string {
	t.Helper()
	var verr *Error
	require.True(t, errors.As(err, &verr))
	return verr.Reason
}

func TestValidateDraftEmpty(t *testing.T) {
	SetRules(Rules{MaxLen: 100})

	err := ValidateDraft(models.Draft{Sender: "u1", Text: "   \t\n"})
	require.Error(t, err)
	assert.Equal(t, ReasonEmpty, reasonOf(t, err))
}

func TestValidateDraftAttachmentOnlyOK(t *testing.T) {
	SetRules(Rules{MaxLen: 100})

	err := ValidateDraft(models.Draft{Sender: "u1", ImageURL: "/attachments/a.png"})
	assert.NoError(t, err)
}

func TestValidateDraftTooLong(t *testing.T) {
	SetRules(Rules{MaxLen: 10})

	err := ValidateDraft(models.Draft{Sender: "u1", Text: strings.Repeat("x", 11)})
	require.Error(t, err)
	assert.Equal(t, ReasonTooLong, reasonOf(t, err))

	// length is counted in characters, not bytes
	err = ValidateDraft(models.Draft{Sender: "u1", Text: strings.Repeat("é", 10)})
	assert.NoError(t, err)
}

func TestValidateDraftLengthIgnoresPadding(t *testing.T) {
	SetRules(Rules{MaxLen: 10})

	// surrounding whitespace does not count against the limit
	err := ValidateDraft(models.Draft{Sender: "u1", Text: "   " + strings.Repeat("x", 10) + "   "})
	assert.NoError(t, err)

	err = ValidateDraft(models.Draft{Sender: "u1", Text: "   " + strings.Repeat("x", 11) + "   "})
	require.Error(t, err)
	assert.Equal(t, ReasonTooLong, reasonOf(t, err))
}

func TestValidateDraftMultipleAttachments(t *testing.T) {
	SetRules(Rules{MaxLen: 100})

	err := ValidateDraft(models.Draft{
		Sender:      "u1",
		ImageURL:    "/attachments/a.png",
		DocumentURL: "/attachments/b.pdf",
	})
	require.Error(t, err)
	assert.Equal(t, ReasonMultipleAttachmentKind, reasonOf(t, err))
}

func TestValidateDraftCheckOrder(t *testing.T) {
	SetRules(Rules{MaxLen: 5})

	// too long AND conflicting attachments: length wins
	err := ValidateDraft(models.Draft{
		Sender:      "u1",
		Text:        "too long either way",
		ImageURL:    "/a.png",
		DocumentURL: "/b.pdf",
	})
	require.Error(t, err)
	assert.Equal(t, ReasonTooLong, reasonOf(t, err))
}

package models

// AttachmentKind tags the variant carried by an Attachment.
type AttachmentKind string

const (
	AttachmentNone     AttachmentKind = ""
	AttachmentImage    AttachmentKind = "image"
	AttachmentDocument AttachmentKind = "document"
	AttachmentAudio    AttachmentKind = "audio"
)

// Attachment is a tagged variant holding at most one attachment kind.
// The zero value means no attachment. Name is only meaningful for
// documents, DurationMs only for audio.
type Attachment struct {
	Kind       AttachmentKind `json:"kind,omitempty"`
	URL        string         `json:"url,omitempty"`
	Name       string         `json:"name,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
}

// IsZero reports whether no attachment is present.
func (a Attachment) IsZero() bool { return a.Kind == AttachmentNone }

// MessageKind maps the attachment variant to the message kind it implies.
func (a Attachment) MessageKind() Kind {
	switch a.Kind {
	case AttachmentImage:
		return KindImage
	case AttachmentDocument:
		return KindDocument
	case AttachmentAudio:
		return KindAudio
	}
	return KindPlain
}

// ImageAttachment builds an image variant.
func ImageAttachment(url string) Attachment {
	return Attachment{Kind: AttachmentImage, URL: url}
}

// DocumentAttachment builds a document variant with a display name.
func DocumentAttachment(url, name string) Attachment {
	return Attachment{Kind: AttachmentDocument, URL: url, Name: name}
}

// AudioAttachment builds an audio variant with a duration in milliseconds.
func AudioAttachment(url string, durationMs int64) Attachment {
	return Attachment{Kind: AttachmentAudio, URL: url, DurationMs: durationMs}
}

package models

// Kind classifies a message on a conversation topic.
type Kind string

const (
	KindPlain    Kind = "plain"
	KindImage    Kind = "image"
	KindDocument Kind = "document"
	KindAudio    Kind = "audio"
	KindSystem   Kind = "system"
)

// Status is the furthest delivery stage reached by any recipient of a
// message. It is derived from the delivery record and never regresses.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// SystemSender is the reserved identity used as the sender of system
// notifications. Messages from this identity are never rate limited and
// never persisted.
const SystemSender = "system"

// Message is a single chat message on a conversation topic. ID is unique
// and immutable once assigned. Text may be empty when an attachment is
// present. ReplyTo, when set, always references a thread root (a message
// with no ReplyTo of its own); the thread model is flat.
type Message struct {
	ID         string     `json:"id"`
	Topic      string     `json:"topic"`
	Sender     string     `json:"sender"`
	SenderName string     `json:"sender_name,omitempty"`
	Kind       Kind       `json:"kind"`
	Text       string     `json:"text,omitempty"`
	Attachment Attachment `json:"attachment,omitempty"`
	ReplyTo    string     `json:"reply_to,omitempty"`
	// TS is the creation timestamp (ns).
	TS int64 `json:"ts"`
	// Status is a snapshot of the derived delivery status at encode time;
	// the delivery tracker is the authority.
	Status      Status   `json:"status"`
	DeliveredTo []string `json:"delivered_to,omitempty"`
	ReadBy      []string `json:"read_by,omitempty"`
}

// IsSystem reports whether the message is a system notification.
func (m Message) IsSystem() bool { return m.Kind == KindSystem }

// Draft is the wire form of an outgoing message before validation. The
// attachment URLs are overlapping optional fields on purpose: validation
// rejects drafts carrying more than one kind, and accepted drafts are
// converted to the single tagged Attachment variant.
type Draft struct {
	Sender     string `json:"sender"`
	SenderName string `json:"sender_name,omitempty"`
	Text       string `json:"text,omitempty"`
	ReplyTo    string `json:"reply_to,omitempty"`

	ImageURL        string `json:"image_url,omitempty"`
	DocumentURL     string `json:"document_url,omitempty"`
	DocumentName    string `json:"document_name,omitempty"`
	AudioURL        string `json:"audio_url,omitempty"`
	AudioDurationMs int64  `json:"audio_duration_ms,omitempty"`
}

// AttachmentCount returns how many distinct attachment kinds the draft
// carries.
func (d Draft) AttachmentCount() int {
	n := 0
	if d.ImageURL != "" {
		n++
	}
	if d.DocumentURL != "" {
		n++
	}
	if d.AudioURL != "" {
		n++
	}
	return n
}

// Attachment converts the draft's loose attachment fields into the tagged
// variant. Call only after validation guaranteed at most one kind is set.
func (d Draft) Attachment() Attachment {
	switch {
	case d.ImageURL != "":
		return ImageAttachment(d.ImageURL)
	case d.DocumentURL != "":
		return DocumentAttachment(d.DocumentURL, d.DocumentName)
	case d.AudioURL != "":
		return AudioAttachment(d.AudioURL, d.AudioDurationMs)
	}
	return Attachment{}
}

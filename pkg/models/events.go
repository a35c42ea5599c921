package models

// Event is a typed occurrence published on a topic bus. The concrete
// variants below replace loose map payloads so subscribers can switch on
// type instead of inspecting string fields.
type Event interface {
	EventName() string
}

// NewMessage announces a message that passed validation, rate limiting and
// persistence. Drafts rejected anywhere in that pipeline are never wrapped
// in a NewMessage.
type NewMessage struct {
	Message Message `json:"message"`
}

func (NewMessage) EventName() string { return "new_message" }

// SystemNotification is a presence-derived system line ("X entered the
// conversation"). Target is the identity the notification is about; it is
// used only to suppress self-echo and is not a delivery address.
type SystemNotification struct {
	ID     string            `json:"id"`
	Text   string            `json:"text"`
	Sender string            `json:"sender"`
	Target string            `json:"target"`
	Kind   PresenceEventKind `json:"kind"`
	TS     int64             `json:"ts"`
}

func (SystemNotification) EventName() string { return "system_notification" }

// StatusChanged announces that a message's derived delivery status moved
// forward after a recipient acknowledgment.
type StatusChanged struct {
	MessageID string `json:"message_id"`
	Status    Status `json:"status"`
	Recipient string `json:"recipient"`
	TS        int64  `json:"ts"`
}

func (StatusChanged) EventName() string { return "status_changed" }

// PresenceChanged carries the merged roster after a membership change.
type PresenceChanged struct {
	Topic  string          `json:"topic"`
	Roster []PresenceEntry `json:"roster"`
	TS     int64           `json:"ts"`
}

func (PresenceChanged) EventName() string { return "presence_changed" }

// Mention announces that a persisted message mentioned an identity. It is
// published on the mentioned user's side channel, not the order topic.
type Mention struct {
	MessageID string `json:"message_id"`
	Topic     string `json:"topic"`
	Sender    string `json:"sender"`
	Target    string `json:"target"`
	TS        int64  `json:"ts"`
}

func (Mention) EventName() string { return "mention" }

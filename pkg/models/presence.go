package models

// ConnMeta describes one connection owned by an identity on a topic.
type ConnMeta struct {
	ConnID string `json:"conn_id"`
	// JoinedTS is the time the connection was tracked (ns).
	JoinedTS int64 `json:"joined_ts"`
}

// PresenceEntry is the merged roster entry for one identity on a topic.
// One identity may own several concurrent connections (multi-device);
// Conns lists the metadata for each of them.
type PresenceEntry struct {
	ID    string     `json:"id"`
	Name  string     `json:"name,omitempty"`
	Conns []ConnMeta `json:"conns"`
}

// PresenceEventKind distinguishes join and leave presence transitions.
type PresenceEventKind string

const (
	PresenceJoin  PresenceEventKind = "join"
	PresenceLeave PresenceEventKind = "leave"
)

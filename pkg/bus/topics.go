package bus

// Topic names are bit-exact wire identifiers; clients subscribe with the
// same strings.

// OrderTopic is the conversation channel for one order.
func OrderTopic(orderID string) string { return "order:" + orderID }

// NotificationsTopic is a per-user side channel for notification fan-out.
func NotificationsTopic(userID string) string { return "notifications:" + userID }

// MentionsTopic is a per-user side channel for mention fan-out.
func MentionsTopic(userID string) string { return "mentions:" + userID }

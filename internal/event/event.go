// Package event defines the order-event envelope and its classification:
// topics for subscription filtering, kinds for producers, and the JSON wire
// shape pushed over streaming connections.
package event

import "strconv"

// Status is the lifecycle state of an order at emission time. Transitions are
// unconstrained here; validation belongs to the order service that mutates
// the persisted order.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPreparing Status = "PREPARING"
	StatusReady     Status = "READY"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Valid reports whether s is one of the fixed status values.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPreparing, StatusReady, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Kind names the mutation that produced an event.
type Kind string

const (
	KindCreated       Kind = "created"
	KindUpdated       Kind = "updated"
	KindStatusChanged Kind = "status-changed"
)

// Topic is a named partition of the event space. Every event belongs to
// exactly one topic at publish time.
type Topic string

const (
	TopicOrderCreated       Topic = "order-created"
	TopicOrderUpdated       Topic = "order-updated"
	TopicOrderStatusChanged Topic = "order-status-changed"
)

// AllTopics lists every topic in a stable order, newest classification last.
func AllTopics() []Topic {
	return []Topic{TopicOrderCreated, TopicOrderUpdated, TopicOrderStatusChanged}
}

// UpdateTopics lists the topics a generic "order updated" observer watches.
// A status-changed event is a specialization of an update, so observers of
// updates subscribe to both topics rather than the publisher double-posting.
func UpdateTopics() []Topic {
	return []Topic{TopicOrderUpdated, TopicOrderStatusChanged}
}

// TopicForKind maps a producer kind to its topic.
func TopicForKind(k Kind) Topic {
	switch k {
	case KindCreated:
		return TopicOrderCreated
	case KindStatusChanged:
		return TopicOrderStatusChanged
	default:
		return TopicOrderUpdated
	}
}

// Wire type discriminators carried in the envelope `type` field.
const (
	TypeConnected    = "connected"
	TypeOrderCreated = "order_created"
	TypeOrderUpdated = "order_updated"
)

// WireTypeForTopic maps a topic to the envelope type pushed to clients.
// Status changes are surfaced to clients as order updates.
func WireTypeForTopic(t Topic) string {
	if t == TopicOrderCreated {
		return TypeOrderCreated
	}
	return TypeOrderUpdated
}

// OrderEvent is the unit of propagation. Constructed exactly once per
// mutation by the publisher; immutable afterwards.
type OrderEvent struct {
	OrderID     string
	UserID      string
	Status      Status
	TimestampMs int64
}

// Envelope is the serialized event sent over the wire. Type is always
// present; the remaining fields appear only when applicable.
type Envelope struct {
	Type      string `json:"type"`
	OrderID   string `json:"orderId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Status    Status `json:"status,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Role      string `json:"role,omitempty"`
}

// EnvelopeFor wraps an order event for the wire under the given topic.
func EnvelopeFor(topic Topic, ev OrderEvent) Envelope {
	return Envelope{
		Type:      WireTypeForTopic(topic),
		OrderID:   ev.OrderID,
		UserID:    ev.UserID,
		Status:    ev.Status,
		Timestamp: ev.TimestampMs,
	}
}

// Connected builds the handshake envelope pushed when a session opens.
func Connected(role string) Envelope {
	return Envelope{Type: TypeConnected, Role: role}
}

// Broker field names for the flattened representation.
const (
	fieldOrderID   = "orderId"
	fieldUserID    = "userId"
	fieldStatus    = "status"
	fieldTimestamp = "timestamp"
)

// Flatten converts an event to the string field set stored in a broker
// stream entry.
func Flatten(ev OrderEvent) map[string]string {
	return map[string]string{
		fieldOrderID:   ev.OrderID,
		fieldUserID:    ev.UserID,
		fieldStatus:    string(ev.Status),
		fieldTimestamp: strconv.FormatInt(ev.TimestampMs, 10),
	}
}

// Unflatten rebuilds an event from a broker field set. Missing or malformed
// fields yield zero values; the caller decides whether to drop the entry.
func Unflatten(fields map[string]string) OrderEvent {
	ts, _ := strconv.ParseInt(fields[fieldTimestamp], 10, 64)
	return OrderEvent{
		OrderID:     fields[fieldOrderID],
		UserID:      fields[fieldUserID],
		Status:      Status(fields[fieldStatus]),
		TimestampMs: ts,
	}
}

package types

import (
	"encoding/json"
	"fmt"
)

// HeartbeatEventType is the synthetic event the server emits to keep a
// long-poll request alive. It carries no application content.
const HeartbeatEventType = "heartbeat"

// EventOp is the optional operation qualifier carried by many event types.
type EventOp string

// Operations the client knows about. The server may send others; they are
// preserved verbatim and Known reports false for them.
const (
	OpUpdate          EventOp = "update"
	OpAdd             EventOp = "add"
	OpRemove          EventOp = "remove"
	OpPeerAdd         EventOp = "peer_add"
	OpPeerRemove      EventOp = "peer_remove"
	OpCreate          EventOp = "create"
	OpDelete          EventOp = "delete"
	OpStart           EventOp = "start"
	OpStop            EventOp = "stop"
	OpAddMembers      EventOp = "add_members"
	OpRemoveMembers   EventOp = "remove_members"
	OpAddSubgroups    EventOp = "add_subgroups"
	OpRemoveSubgroups EventOp = "remove_subgroups"
	OpChange          EventOp = "change"
	OpDeactivated     EventOp = "deactivated"
	OpUpdateDict      EventOp = "update_dict"
)

var knownOps = map[EventOp]struct{}{
	OpUpdate: {}, OpAdd: {}, OpRemove: {}, OpPeerAdd: {}, OpPeerRemove: {},
	OpCreate: {}, OpDelete: {}, OpStart: {}, OpStop: {}, OpAddMembers: {},
	OpRemoveMembers: {}, OpAddSubgroups: {}, OpRemoveSubgroups: {}, OpChange: {},
	OpDeactivated: {}, OpUpdateDict: {},
}

// Known reports whether op is one of the operations declared above.
func (op EventOp) Known() bool {
	_, ok := knownOps[op]
	return ok
}

func (op EventOp) String() string {
	return string(op)
}

// Event is one entry of an event batch.
type Event struct {
	ID   int64
	Type string
	// Op is nil when the event carries no "op" field.
	Op *EventOp
	// Raw is the complete event object, for decoding type-specific payloads.
	Raw json.RawMessage
}

type eventWire struct {
	ID   *int64   `json:"id"`
	Type string   `json:"type"`
	Op   *EventOp `json:"op"`
}

// UnmarshalJSON decodes the fields every event shares and keeps the raw object.
func (e *Event) UnmarshalJSON(data []byte) error {
	var wire eventWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.ID == nil {
		return fmt.Errorf("event has no id")
	}
	e.ID = *wire.ID
	e.Type = wire.Type
	e.Op = wire.Op
	e.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// IsHeartbeat reports whether the event is a keep-alive.
func (e Event) IsHeartbeat() bool {
	return e.Type == HeartbeatEventType
}

// OpValue returns the operation, or "" when the event has none.
func (e Event) OpValue() EventOp {
	if e.Op == nil {
		return ""
	}
	return *e.Op
}

// Decode unmarshals the raw event into v.
func (e Event) Decode(v any) error {
	if len(e.Raw) == 0 {
		return fmt.Errorf("event %d has no payload", e.ID)
	}
	return json.Unmarshal(e.Raw, v)
}

// EventsResponse is the body of a successful events poll.
type EventsResponse struct {
	Events []Event `json:"events"`
}

// RegisterResponse is the body of a successful queue registration. Fields
// other than QueueID and LastEventID are informational. LastEventID is nil
// when the server omitted it.
type RegisterResponse struct {
	QueueID            string `json:"queue_id"`
	LastEventID        *int64 `json:"last_event_id"`
	ZulipVersion       string `json:"zulip_version"`
	ZulipFeatureLevel  int    `json:"zulip_feature_level"`
	ZulipMergeBase     string `json:"zulip_merge_base"`
	MaxMessageID       int64  `json:"max_message_id"`
	EventQueueLongpoll int    `json:"event_queue_longpoll_timeout_seconds"`
}

// APIKeyResponse is returned by both API key handshakes.
type APIKeyResponse struct {
	Email  string `json:"email"`
	APIKey string `json:"api_key"`
}

// Credentials identify the caller. A nil Secret means requests are signed
// with the identity alone.
type Credentials struct {
	Identity string
	Secret   *string
}

// NewCredentials returns credentials with a secret.
func NewCredentials(identity, secret string) Credentials {
	return Credentials{Identity: identity, Secret: &secret}
}

// Unauthenticated returns credentials with no secret.
func Unauthenticated(identity string) Credentials {
	return Credentials{Identity: identity}
}

// SecretValue returns the secret, or "" when absent.
func (c Credentials) SecretValue() string {
	if c.Secret == nil {
		return ""
	}
	return *c.Secret
}

// HasSecret reports whether a secret is present.
func (c Credentials) HasSecret() bool {
	return c.Secret != nil
}

// String never includes the secret.
func (c Credentials) String() string {
	if c.Secret == nil {
		return c.Identity + " (no key)"
	}
	return c.Identity + " (key set)"
}

// ClientCapabilities is announced to the server at registration.
type ClientCapabilities struct {
	NotificationSettingsNull   bool `json:"notification_settings_null"`
	BulkMessageDeletion        bool `json:"bulk_message_deletion"`
	UserAvatarURLFieldOptional bool `json:"user_avatar_url_field_optional"`
	StreamTypingNotifications  bool `json:"stream_typing_notifications"`
	UserSettingsObject         bool `json:"user_settings_object"`
}

// DefaultClientCapabilities enables every capability.
func DefaultClientCapabilities() ClientCapabilities {
	return ClientCapabilities{
		NotificationSettingsNull:   true,
		BulkMessageDeletion:        true,
		UserAvatarURLFieldOptional: true,
		StreamTypingNotifications:  true,
		UserSettingsObject:         true,
	}
}

// NarrowFilter restricts which events a queue receives.
type NarrowFilter struct {
	Condition string
	Value     string
}

// MarshalJSON encodes the filter as a two-element array.
func (n NarrowFilter) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{n.Condition, n.Value})
}

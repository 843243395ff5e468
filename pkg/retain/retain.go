package retain

import (
    "context"
    "time"
)

// TopicName is the concrete topic a message was published to.
type TopicName string

// TopicFilter is a subscription pattern, possibly containing the MQTT
// wildcards '+' and '#'. Filters are only used for matching, never as keys.
type TopicFilter string

// Retain is a retained message stored against exactly one TopicName.
type Retain struct {
    // MsgID is the broker-assigned id of the original publish.
    MsgID uint64 `json:"msgId,omitempty" msgpack:"id,omitempty"`
    // From identifies the publisher (client id, optionally node prefixed).
    From string `json:"from,omitempty" msgpack:"from,omitempty"`
    Payload []byte `json:"payload" msgpack:"p"`
    QoS     byte   `json:"qos" msgpack:"q"`
    // Properties carries MQTT v5 user properties and similar metadata.
    Properties map[string]string `json:"properties,omitempty" msgpack:"props,omitempty"`
    CreatedAt  time.Time         `json:"createdAt" msgpack:"c"`
    // ExpiresAt is zero when the message never expires.
    ExpiresAt time.Time `json:"expiresAt,omitempty" msgpack:"e,omitempty"`
}

// Expired reports whether r is past its expiry at now.
func (r Retain) Expired(now time.Time) bool {
    return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Empty reports whether r carries no payload. Setting an empty retain
// removes the topic from the store.
func (r Retain) Empty() bool { return len(r.Payload) == 0 }

// Clone returns a copy of r that shares no payload or property storage.
func (r Retain) Clone() Retain {
    if r.Payload != nil { r.Payload = append([]byte(nil), r.Payload...) }
    if r.Properties != nil {
        props := make(map[string]string, len(r.Properties))
        for k, v := range r.Properties { props[k] = v }
        r.Properties = props
    }
    return r
}

// TopicRetain pairs a topic with its retained message.
type TopicRetain struct {
    Topic  TopicName `json:"topic"`
    Retain Retain    `json:"retain"`
}

// Storage is the node-local retained message store. Implementations must be
// safe for concurrent use.
type Storage interface {
    // Set stores retain under topic, replacing any previous value. An empty
    // payload removes the topic.
    Set(ctx context.Context, topic TopicName, r Retain) error
    // Get returns all non-expired retained messages whose topic matches filter.
    Get(ctx context.Context, filter TopicFilter) ([]TopicRetain, error)
    // Count returns the number of retained messages currently held.
    Count(ctx context.Context) (int, error)
    // Max returns the configured capacity ceiling; 0 means unlimited.
    Max() int
}

// Sweeper is implemented by stores that need expired entries removed
// periodically.
type Sweeper interface {
    Sweep(ctx context.Context, now time.Time) (removed int, err error)
}

// Limits configures the admission rules shared by every Storage backend.
type Limits struct {
    // MaxRetained caps the number of distinct topics. 0 means unlimited.
    MaxRetained int
    // MaxPayloadSize caps a single payload in bytes. 0 means unlimited.
    MaxPayloadSize int
    // DefaultTTL is applied to retains that carry no ExpiresAt.
    DefaultTTL time.Duration
}

// Admit validates topic and r against l and returns r with the default TTL
// applied. exists tells whether topic is already stored (replacements are
// never rejected by MaxRetained).
func (l Limits) Admit(topic TopicName, r Retain, count int, exists bool) (Retain, error) {
    if err := ValidateTopic(topic); err != nil {
        return r, err
    }
    if l.MaxPayloadSize > 0 && len(r.Payload) > l.MaxPayloadSize {
        return r, ErrPayloadTooLarge
    }
    if !exists && l.MaxRetained > 0 && count >= l.MaxRetained {
        return r, ErrLimitExceeded
    }
    if r.CreatedAt.IsZero() {
        r.CreatedAt = time.Now()
    }
    if r.ExpiresAt.IsZero() && l.DefaultTTL > 0 {
        r.ExpiresAt = r.CreatedAt.Add(l.DefaultTTL)
    }
    return r, nil
}

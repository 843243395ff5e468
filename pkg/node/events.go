package node

import (
    "context"
    "sync"
    "time"

    "github.com/amirimatin/go-retainer/pkg/membership"
)

type EventType string

const (
    EventMemberJoin   EventType = "member_join"
    EventMemberLeave  EventType = "member_leave"
    EventMemberUpdate EventType = "member_update"
)

// Event describes a change in the set of peers a lookup will query.
type Event struct {
    Type   EventType
    At     time.Time
    Member membership.MemberInfo
}

// Subscribe returns a channel of events, closed when ctx is done. Delivery
// is best effort: slow consumers miss events.
func (n *Node) Subscribe(ctx context.Context) <-chan Event {
    ch := make(chan Event, 64)
    n.eb.add(ch)
    go func() {
        <-ctx.Done()
        n.eb.remove(ch)
        close(ch)
    }()
    return ch
}

type eventBus struct {
    mu   sync.Mutex
    subs map[chan Event]struct{}
}

func (e *eventBus) add(ch chan Event) {
    e.mu.Lock()
    if e.subs == nil { e.subs = make(map[chan Event]struct{}) }
    e.subs[ch] = struct{}{}
    e.mu.Unlock()
}

func (e *eventBus) remove(ch chan Event) {
    e.mu.Lock()
    delete(e.subs, ch)
    e.mu.Unlock()
}

func (e *eventBus) publish(ev Event) {
    e.mu.Lock()
    defer e.mu.Unlock()
    for ch := range e.subs {
        select {
        case ch <- ev:
        default:
        }
    }
}

func eventFor(e membership.Event) Event {
    t := EventMemberJoin
    switch e.Type {
    case membership.EventLeave:
        t = EventMemberLeave
    case membership.EventUpdate:
        t = EventMemberUpdate
    }
    return Event{Type: t, At: e.At, Member: e.Member}
}

package retainer

import (
    "sync"
    "sync/atomic"

    "github.com/amirimatin/go-retainer/pkg/transport"
)

// Once holds a lazily constructed Retainer. The first successful GetOrInit
// wins: later calls return the same instance and ignore their arguments,
// including the message type. A failed construction leaves Once empty.
type Once struct {
    mu sync.Mutex
    r  atomic.Pointer[Retainer]
}

// GetOrInit returns the held Retainer, constructing it from opts with
// msgType on first use.
func (o *Once) GetOrInit(msgType transport.MessageType, opts Options) (*Retainer, error) {
    if r := o.r.Load(); r != nil {
        return r, nil
    }
    o.mu.Lock()
    defer o.mu.Unlock()
    if r := o.r.Load(); r != nil {
        return r, nil
    }
    opts.MessageType = msgType
    r, err := New(opts)
    if err != nil {
        return nil, err
    }
    o.r.Store(r)
    return r, nil
}

// Get returns the held Retainer or nil before initialization.
func (o *Once) Get() *Retainer { return o.r.Load() }

var process Once

// GetOrInit returns the process-wide Retainer, creating it on first call.
// See Once.GetOrInit.
func GetOrInit(msgType transport.MessageType, opts Options) (*Retainer, error) {
    return process.GetOrInit(msgType, opts)
}

// Instance returns the process-wide Retainer, or nil if GetOrInit has not
// succeeded yet.
func Instance() *Retainer { return process.Get() }

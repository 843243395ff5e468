package memory

import (
    "context"
    "strings"
    "sync"
    "time"

    "github.com/amirimatin/go-retainer/pkg/retain"
)

// Store is the default in-process retain.Storage. Retained messages are kept
// in a topic trie so wildcard lookups only walk matching branches.
type Store struct {
    mu     sync.RWMutex
    limits retain.Limits
    root   *trieNode
    count  int
    now    func() time.Time
}

type trieNode struct {
    children map[string]*trieNode
    entry    *retain.Retain
}

func newNode() *trieNode { return &trieNode{children: make(map[string]*trieNode)} }

// New returns an empty store enforcing limits.
func New(limits retain.Limits) *Store {
    return &Store{limits: limits, root: newNode(), now: time.Now}
}

func (s *Store) Set(ctx context.Context, topic retain.TopicName, r retain.Retain) error {
    if err := retain.ValidateTopic(topic); err != nil {
        return err
    }
    s.mu.Lock()
    defer s.mu.Unlock()
    levels := topic.Levels()
    if r.Empty() {
        s.remove(levels)
        return nil
    }
    n := s.lookup(levels)
    exists := n != nil && n.entry != nil
    r, err := s.limits.Admit(topic, r, s.count, exists)
    if err != nil {
        return err
    }
    if n == nil {
        n = s.root
        for _, l := range levels {
            c, ok := n.children[l]
            if !ok {
                c = newNode()
                n.children[l] = c
            }
            n = c
        }
    }
    if n.entry == nil {
        s.count++
    }
    r = r.Clone()
    n.entry = &r
    return nil
}

func (s *Store) Get(ctx context.Context, filter retain.TopicFilter) ([]retain.TopicRetain, error) {
    if err := retain.ValidateFilter(filter); err != nil {
        return nil, err
    }
    filter = retain.Unshare(filter)
    now := s.now()
    s.mu.RLock()
    defer s.mu.RUnlock()
    var out []retain.TopicRetain
    s.collect(s.root, filter.Levels(), nil, true, now, &out)
    return out, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
    s.mu.RLock()
    defer s.mu.RUnlock()
    return s.count, nil
}

func (s *Store) Max() int { return s.limits.MaxRetained }

// Sweep removes every entry that expired at or before now.
func (s *Store) Sweep(ctx context.Context, now time.Time) (int, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    removed := s.sweep(s.root, now)
    s.count -= removed
    return removed, nil
}

func (s *Store) sweep(n *trieNode, now time.Time) int {
    removed := 0
    for k, c := range n.children {
        removed += s.sweep(c, now)
        if c.entry == nil && len(c.children) == 0 {
            delete(n.children, k)
        }
    }
    if n.entry != nil && n.entry.Expired(now) {
        n.entry = nil
        removed++
    }
    return removed
}

func (s *Store) lookup(levels []string) *trieNode {
    n := s.root
    for _, l := range levels {
        c, ok := n.children[l]
        if !ok {
            return nil
        }
        n = c
    }
    return n
}

// remove clears the entry at levels and prunes empty branches.
func (s *Store) remove(levels []string) {
    path := make([]*trieNode, 0, len(levels)+1)
    n := s.root
    path = append(path, n)
    for _, l := range levels {
        c, ok := n.children[l]
        if !ok {
            return
        }
        n = c
        path = append(path, n)
    }
    if n.entry == nil {
        return
    }
    n.entry = nil
    s.count--
    for i := len(levels) - 1; i >= 0; i-- {
        child := path[i+1]
        if child.entry != nil || len(child.children) > 0 {
            break
        }
        delete(path[i].children, levels[i])
    }
}

func (s *Store) collect(n *trieNode, filter []string, prefix []string, top bool, now time.Time, out *[]retain.TopicRetain) {
    if len(filter) == 0 {
        s.emit(n, prefix, now, out)
        return
    }
    head, rest := filter[0], filter[1:]
    switch head {
    case "#":
        // "#" also matches the parent level itself
        if !top {
            s.emit(n, prefix, now, out)
        }
        s.walkAll(n, prefix, top, now, out)
    case "+":
        for l, c := range n.children {
            if top && strings.HasPrefix(l, "$") {
                continue
            }
            s.collect(c, rest, append(prefix, l), false, now, out)
        }
    default:
        if c, ok := n.children[head]; ok {
            s.collect(c, rest, append(prefix, head), false, now, out)
        }
    }
}

func (s *Store) walkAll(n *trieNode, prefix []string, top bool, now time.Time, out *[]retain.TopicRetain) {
    for l, c := range n.children {
        if top && strings.HasPrefix(l, "$") {
            continue
        }
        p := append(prefix, l)
        s.emit(c, p, now, out)
        s.walkAll(c, p, false, now, out)
    }
}

func (s *Store) emit(n *trieNode, levels []string, now time.Time, out *[]retain.TopicRetain) {
    if n.entry == nil || n.entry.Expired(now) {
        return
    }
    *out = append(*out, retain.TopicRetain{Topic: retain.TopicName(strings.Join(levels, "/")), Retain: n.entry.Clone()})
}

var (
    _ retain.Storage = (*Store)(nil)
    _ retain.Sweeper = (*Store)(nil)
)

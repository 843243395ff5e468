package retain

import "strings"

const (
    levelSep      = "/"
    singleLevel   = "+"
    multiLevel    = "#"
    sharePrefix   = "$share/"
)

// ValidateTopic checks that t is usable as a storage key.
func ValidateTopic(t TopicName) error {
    s := string(t)
    if s == "" || strings.ContainsAny(s, "+#\x00") {
        return ErrInvalidTopic
    }
    return nil
}

// ValidateFilter checks wildcard placement in f.
func ValidateFilter(f TopicFilter) error {
    s := string(Unshare(f))
    if s == "" || strings.ContainsRune(s, 0) {
        return ErrInvalidFilter
    }
    levels := strings.Split(s, levelSep)
    for i, l := range levels {
        if strings.Contains(l, multiLevel) && (l != multiLevel || i != len(levels)-1) {
            return ErrInvalidFilter
        }
        if strings.Contains(l, singleLevel) && l != singleLevel {
            return ErrInvalidFilter
        }
    }
    return nil
}

// Unshare strips a "$share/<group>/" prefix from a shared subscription filter.
func Unshare(f TopicFilter) TopicFilter {
    s := string(f)
    if !strings.HasPrefix(s, sharePrefix) {
        return f
    }
    rest := s[len(sharePrefix):]
    i := strings.Index(rest, levelSep)
    if i < 0 {
        return ""
    }
    return TopicFilter(rest[i+1:])
}

// HasWildcard reports whether f contains '+' or '#'.
func (f TopicFilter) HasWildcard() bool {
    return strings.ContainsAny(string(f), "+#")
}

// Levels splits f into its topic levels.
func (f TopicFilter) Levels() []string { return strings.Split(string(f), levelSep) }

// Levels splits t into its topic levels.
func (t TopicName) Levels() []string { return strings.Split(string(t), levelSep) }

// IsSystem reports whether t is a "$"-prefixed topic ($SYS and friends).
func (t TopicName) IsSystem() bool { return strings.HasPrefix(string(t), "$") }

// Match reports whether topic matches filter using MQTT rules. Filters that
// begin with a wildcard never match "$" topics.
func Match(filter TopicFilter, topic TopicName) bool {
    filter = Unshare(filter)
    if filter == "" || topic == "" {
        return false
    }
    fl := filter.Levels()
    tl := topic.Levels()
    if topic.IsSystem() && (fl[0] == singleLevel || fl[0] == multiLevel) {
        return false
    }
    return matchLevels(fl, tl)
}

func matchLevels(fl, tl []string) bool {
    for i, f := range fl {
        if f == multiLevel {
            return true
        }
        if i >= len(tl) {
            return false
        }
        if f != singleLevel && f != tl[i] {
            return false
        }
    }
    return len(fl) == len(tl)
}

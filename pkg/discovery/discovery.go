// Package discovery provides seed addresses for joining the gossip cluster.
package discovery

import (
    "sort"
    "strings"
)

// Discovery returns the current seed addresses (host:port of peers' gossip
// endpoints). Implementations may cache and refresh in the background.
type Discovery interface {
    Seeds() []string
}

// Func adapts a function to Discovery.
type Func func() []string

func (f Func) Seeds() []string { return f() }

// SplitList parses a comma or newline separated list. Empty items and
// `#` comment lines are dropped.
func SplitList(s string) []string {
    var out []string
    for _, line := range strings.Split(s, "\n") {
        line = strings.TrimSpace(line)
        if line == "" || strings.HasPrefix(line, "#") { continue }
        for _, p := range strings.Split(line, ",") {
            if p = strings.TrimSpace(p); p != "" { out = append(out, p) }
        }
    }
    return out
}

// Normalize trims, de-duplicates and sorts seeds. It returns a new slice.
func Normalize(seeds []string) []string {
    if len(seeds) == 0 { return nil }
    seen := make(map[string]struct{}, len(seeds))
    out := make([]string, 0, len(seeds))
    for _, s := range seeds {
        s = strings.TrimSpace(s)
        if s == "" { continue }
        if _, dup := seen[s]; dup { continue }
        seen[s] = struct{}{}
        out = append(out, s)
    }
    sort.Strings(out)
    return out
}

package discovery

import (
    "os"
    "path/filepath"
    "strings"
    "sync"
    "time"
)

// FileOptions configures file/ENV based discovery.
type FileOptions struct {
    // Path is a file (or glob) with one seed per line or comma separated.
    Path string
    // Env names an environment variable that overrides the file when set.
    Env string
    // Refresh controls cache staleness. Defaults to 5s.
    Refresh time.Duration
}

type fileSeeds struct {
    opts  FileOptions
    mu    sync.Mutex
    last  time.Time
    mtime time.Time
    cache []string
}

// File returns a Discovery reading seeds from opts.Env or opts.Path.
func File(opts FileOptions) Discovery {
    if opts.Refresh <= 0 { opts.Refresh = 5 * time.Second }
    return &fileSeeds{opts: opts}
}

func (f *fileSeeds) Seeds() []string {
    f.mu.Lock()
    defer f.mu.Unlock()
    if f.opts.Env != "" {
        if v := strings.TrimSpace(os.Getenv(f.opts.Env)); v != "" {
            return Normalize(SplitList(v))
        }
    }
    if f.opts.Path == "" { return nil }

    now := time.Now()
    if st, err := os.Stat(f.opts.Path); err == nil {
        if st.ModTime().After(f.mtime) || now.Sub(f.last) >= f.opts.Refresh {
            f.cache = readSeeds(f.opts.Path)
            f.last, f.mtime = now, st.ModTime()
        }
        return append([]string(nil), f.cache...)
    }
    if matches, _ := filepath.Glob(f.opts.Path); len(matches) > 0 {
        var all []string
        for _, m := range matches { all = append(all, readSeeds(m)...) }
        f.cache, f.last = Normalize(all), now
    }
    return append([]string(nil), f.cache...)
}

func readSeeds(path string) []string {
    b, err := os.ReadFile(path)
    if err != nil { return nil }
    return Normalize(SplitList(string(b)))
}

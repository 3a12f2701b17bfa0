// Package file reads gossip seeds from a seeds file or an environment
// variable, for deployments where an orchestrator writes the peer list out
// of band.
package file

import (
    "bufio"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "sync"
    "time"

    "github.com/housemecn/rustfs/pkg/discovery"
)

// Options configures file and environment based seed discovery.
type Options struct {
    // Path to a seeds file (one address per line, commas allowed, '#'
    // comments skipped). Glob patterns are accepted.
    Path string
    // Env names an environment variable holding a comma-separated list.
    // When set and non-empty it takes precedence over Path.
    Env string
    // Refresh bounds how long file contents are cached. Defaults to 5s.
    Refresh time.Duration
}

type watcher struct {
    opts Options

    mu     sync.Mutex
    readAt time.Time
    mtime  time.Time
    cache  []string
}

// New returns a Discovery backed by Options.
func New(opts Options) discovery.Discovery {
    if opts.Refresh <= 0 {
        opts.Refresh = 5 * time.Second
    }
    return &watcher{opts: opts}
}

func (w *watcher) Seeds() []string {
    w.mu.Lock()
    defer w.mu.Unlock()

    if w.opts.Env != "" {
        if v := strings.TrimSpace(os.Getenv(w.opts.Env)); v != "" {
            return splitCSV(v)
        }
    }
    if w.opts.Path == "" {
        return nil
    }

    now := time.Now()
    if stat, err := os.Stat(w.opts.Path); err == nil {
        stale := now.Sub(w.readAt) >= w.opts.Refresh
        if stale || stat.ModTime().After(w.mtime) {
            w.cache = readSeedFile(w.opts.Path)
            w.readAt = now
            w.mtime = stat.ModTime()
        }
        return append([]string(nil), w.cache...)
    }

    // Path did not stat cleanly; treat it as a glob.
    if matches, _ := filepath.Glob(w.opts.Path); len(matches) > 0 {
        merged := make(map[string]struct{})
        for _, m := range matches {
            for _, s := range readSeedFile(m) {
                merged[s] = struct{}{}
            }
        }
        w.cache = sortedKeys(merged)
        w.readAt = now
    }
    return append([]string(nil), w.cache...)
}

func readSeedFile(path string) []string {
    f, err := os.Open(path)
    if err != nil {
        return nil
    }
    defer f.Close()

    set := make(map[string]struct{})
    sc := bufio.NewScanner(f)
    for sc.Scan() {
        line := strings.TrimSpace(sc.Text())
        if line == "" || strings.HasPrefix(line, "#") {
            continue
        }
        for _, p := range strings.Split(line, ",") {
            if p = strings.TrimSpace(p); p != "" {
                set[p] = struct{}{}
            }
        }
    }
    if sc.Err() != nil {
        return nil
    }
    return sortedKeys(set)
}

func splitCSV(csv string) []string {
    var out []string
    for _, p := range strings.Split(csv, ",") {
        if p = strings.TrimSpace(p); p != "" {
            out = append(out, p)
        }
    }
    sort.Strings(out)
    return out
}

func sortedKeys(set map[string]struct{}) []string {
    out := make([]string, 0, len(set))
    for s := range set {
        out = append(out, s)
    }
    sort.Strings(out)
    return out
}

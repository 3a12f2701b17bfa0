// Package static provides seed discovery from a fixed, operator-supplied
// address list.
package static

import (
    "strings"

    "github.com/housemecn/rustfs/pkg/discovery"
)

type fixed struct {
    addrs []string
}

// Seeds returns a copy of the configured addresses.
func (f *fixed) Seeds() []string {
    return append([]string(nil), f.addrs...)
}

// New builds a Discovery over the given addresses. Blank entries are dropped.
func New(seeds ...string) discovery.Discovery {
    f := &fixed{addrs: make([]string, 0, len(seeds))}
    for _, s := range seeds {
        if s = strings.TrimSpace(s); s != "" {
            f.addrs = append(f.addrs, s)
        }
    }
    return f
}

// Parse splits a comma-separated seed list, trimming blanks.
func Parse(csv string) []string {
    if csv == "" {
        return nil
    }
    var out []string
    for _, p := range strings.Split(csv, ",") {
        if p = strings.TrimSpace(p); p != "" {
            out = append(out, p)
        }
    }
    return out
}

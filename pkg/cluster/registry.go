package cluster

import (
    "encoding/json"
    "fmt"
    "sort"
    "sync"
    "time"

    "github.com/housemecn/rustfs/pkg/detector"
)

// Member is the registry's view of a tracked node or disk.
type Member struct {
    ID      string        `json:"id"`
    Kind    detector.Kind `json:"kind"`
    Group   string        `json:"group,omitempty"`
    AddedAt time.Time     `json:"addedAt"`
}

// registry is the in-memory member directory. It is a leaf lock: callers
// must not invoke detector, quorum or coordinator methods while holding it.
type registry struct {
    mu      sync.RWMutex
    members map[string]Member
}

func newRegistry() *registry { return &registry{members: make(map[string]Member)} }

func (r *registry) add(m Member) error {
    if m.ID == "" {
        return fmt.Errorf("cluster: empty member id")
    }
    r.mu.Lock()
    defer r.mu.Unlock()
    if _, ok := r.members[m.ID]; ok {
        return fmt.Errorf("%w: %s", ErrMemberExists, m.ID)
    }
    r.members[m.ID] = m
    return nil
}

func (r *registry) remove(id string) bool {
    r.mu.Lock()
    defer r.mu.Unlock()
    if _, ok := r.members[id]; !ok {
        return false
    }
    delete(r.members, id)
    return true
}

func (r *registry) get(id string) (Member, bool) {
    r.mu.RLock()
    defer r.mu.RUnlock()
    m, ok := r.members[id]
    return m, ok
}

func (r *registry) list() []Member {
    r.mu.RLock()
    defer r.mu.RUnlock()
    out := make([]Member, 0, len(r.members))
    for _, m := range r.members {
        out = append(out, m)
    }
    sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
    return out
}

// Snapshot encodes the directory as stable JSON for backup and migration.
func (r *registry) Snapshot() ([]byte, error) {
    return json.Marshal(struct {
        Version int      `json:"version"`
        Members []Member `json:"members"`
    }{Version: 1, Members: r.list()})
}

// decodeSnapshot parses a Snapshot blob back into member entries. Restoring
// them goes through Core.ImportMembers so the detector and quorum side see
// every entry; the registry is never repopulated raw.
func decodeSnapshot(buf []byte) ([]Member, error) {
    var snapshot struct {
        Version int      `json:"version"`
        Members []Member `json:"members"`
    }
    if err := json.Unmarshal(buf, &snapshot); err != nil {
        return nil, err
    }
    // Only Version 1 exists so far.
    out := snapshot.Members[:0]
    for _, m := range snapshot.Members {
        if m.ID == "" { continue }
        out = append(out, m)
    }
    return out, nil
}

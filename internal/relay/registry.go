package relay

import (
	"hash/fnv"
	"sync"
)

// DefaultShards is the shard count used by NewRegistry when given zero.
const DefaultShards = 8

// Registry is the set of currently open connections, sharded by ID.
type Registry struct {
	shards []*registryShard
}

type registryShard struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewRegistry creates an empty registry with the given number of shards.
func NewRegistry(shards int) *Registry {
	if shards <= 0 {
		shards = DefaultShards
	}
	r := &Registry{shards: make([]*registryShard, shards)}
	for i := range r.shards {
		r.shards[i] = &registryShard{conns: make(map[string]*Conn)}
	}
	return r
}

func (r *Registry) shardFor(id string) *registryShard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Add registers c. Adding an ID twice keeps the latest connection.
func (r *Registry) Add(c *Conn) {
	sh := r.shardFor(c.ID())
	sh.mu.Lock()
	sh.conns[c.ID()] = c
	sh.mu.Unlock()
}

// Remove unregisters id and returns the removed connection, or nil if it was absent.
func (r *Registry) Remove(id string) *Conn {
	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	c, ok := sh.conns[id]
	if !ok {
		return nil
	}
	delete(sh.conns, id)
	return c
}

// Get returns the connection registered under id.
func (r *Registry) Get(id string) (*Conn, bool) {
	sh := r.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	c, ok := sh.conns[id]
	return c, ok
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		n += len(sh.conns)
		sh.mu.RUnlock()
	}
	return n
}

// Snapshot copies the registered connections. Each shard is read under its
// lock, so no entry is observed mid-insert or mid-remove.
func (r *Registry) Snapshot() []*Conn {
	out := make([]*Conn, 0, r.Len())
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, c := range sh.conns {
			out = append(out, c)
		}
		sh.mu.RUnlock()
	}
	return out
}

// IDs returns the identifiers of all registered connections.
func (r *Registry) IDs() []string {
	conns := r.Snapshot()
	ids := make([]string, len(conns))
	for i, c := range conns {
		ids[i] = c.ID()
	}
	return ids
}

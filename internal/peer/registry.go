package peer

import (
	"slices"
	"sort"
	"sync"
)

// Lifecycle is the read side of the connection registry consumed by the
// phase machine, the scene coordinator and the event bus.
type Lifecycle interface {
	IsAuthority() bool
	LocalID() ID
	AuthorityID() ID
	Connected() []ID
	Contains(id ID) bool
}

// Registry tracks the connected peer set and which peer is the authority.
// On the authority the local ID is a member of the connected set: a host is
// also a peer.
type Registry struct {
	mu        sync.RWMutex
	local     ID
	authority ID
	peers     map[ID]struct{}

	onConnected    []func(ID)
	onDisconnected []func(ID)
}

// NewAuthorityRegistry creates the registry of the hosting process.
func NewAuthorityRegistry(local ID) *Registry {
	r := &Registry{
		local:     local,
		authority: local,
		peers:     make(map[ID]struct{}),
	}
	r.peers[local] = struct{}{}
	return r
}

// NewPeerRegistry creates the registry of a non-authority process. IDs are
// filled in by Assign once the authority has welcomed the peer.
func NewPeerRegistry() *Registry {
	return &Registry{peers: make(map[ID]struct{})}
}

// Assign sets the local and authority IDs of a non-authority registry.
func (r *Registry) Assign(local, authority ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local = local
	r.authority = authority
}

func (r *Registry) IsAuthority() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.local != None && r.local == r.authority
}

func (r *Registry) LocalID() ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.local
}

func (r *Registry) AuthorityID() ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.authority
}

// OnConnected registers a listener for new peers.
func (r *Registry) OnConnected(fn func(ID)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onConnected = append(r.onConnected, fn)
}

// OnDisconnected registers a listener for departed peers.
func (r *Registry) OnDisconnected(fn func(ID)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDisconnected = append(r.onDisconnected, fn)
}

// Connect adds id to the connected set. Returns false if it was already
// present. Listeners run after the lock is released.
func (r *Registry) Connect(id ID) bool {
	r.mu.Lock()
	if _, ok := r.peers[id]; ok || id == None {
		r.mu.Unlock()
		return false
	}
	r.peers[id] = struct{}{}
	listeners := slices.Clone(r.onConnected)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(id)
	}
	return true
}

// Disconnect removes id from the connected set. The authority's own ID
// cannot be removed.
func (r *Registry) Disconnect(id ID) bool {
	r.mu.Lock()
	if _, ok := r.peers[id]; !ok || (id == r.authority && id == r.local) {
		r.mu.Unlock()
		return false
	}
	delete(r.peers, id)
	listeners := slices.Clone(r.onDisconnected)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(id)
	}
	return true
}

// Sync makes the connected set equal ids plus the local and authority IDs,
// firing listeners for every peer added or removed.
func (r *Registry) Sync(ids []ID) {
	want := make(map[ID]struct{}, len(ids)+2)
	for _, id := range ids {
		want[id] = struct{}{}
	}
	local, authority := r.LocalID(), r.AuthorityID()
	want[local] = struct{}{}
	want[authority] = struct{}{}
	delete(want, None)

	for _, id := range r.Connected() {
		if _, ok := want[id]; !ok {
			r.Disconnect(id)
		}
	}
	for id := range want {
		r.Connect(id)
	}
}

// Connected returns a sorted snapshot of the connected set.
func (r *Registry) Connected() []ID {
	r.mu.RLock()
	ids := make([]ID, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Remote returns the connected set without the local peer.
func (r *Registry) Remote() []ID {
	local := r.LocalID()
	all := r.Connected()
	out := all[:0]
	for _, id := range all {
		if id != local {
			out = append(out, id)
		}
	}
	return out
}

func (r *Registry) Contains(id ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.peers[id]
	return ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

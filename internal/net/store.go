package net

import (
	"fmt"
	"sort"
	"sync"

	"github.com/reciperage/syncd/internal/core/syncerr"
	"github.com/reciperage/syncd/internal/net/packet"
	"github.com/reciperage/syncd/internal/peer"
)

// SessionStore tracks the authority's live sessions and implements
// transport.Sender over them. Only joined sessions receive broadcasts.
type SessionStore struct {
	mu     sync.RWMutex
	byID   map[uint64]*Session
	byPeer map[peer.ID]*Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		byID:   make(map[uint64]*Session),
		byPeer: make(map[peer.ID]*Session),
	}
}

func (s *SessionStore) Add(sess *Session) {
	s.mu.Lock()
	s.byID[sess.ID] = sess
	s.mu.Unlock()
}

// Bind attaches a welcomed peer ID to its session.
func (s *SessionStore) Bind(sess *Session, id peer.ID) {
	sess.SetPeerID(id)
	sess.SetState(packet.StateJoined)
	s.mu.Lock()
	s.byPeer[id] = sess
	s.mu.Unlock()
}

// Remove forgets sess and returns its peer ID (None if it never joined).
func (s *SessionStore) Remove(sess *Session) peer.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, sess.ID)
	id := sess.PeerID()
	if id != peer.None && s.byPeer[id] == sess {
		delete(s.byPeer, id)
	}
	return id
}

func (s *SessionStore) ByPeer(id peer.ID) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byPeer[id]
}

// All returns every session ordered by ID.
func (s *SessionStore) All() []*Session {
	s.mu.RLock()
	out := make([]*Session, 0, len(s.byID))
	for _, sess := range s.byID {
		out = append(out, sess)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ForEach calls fn for every session ordered by ID.
func (s *SessionStore) ForEach(fn func(*Session)) {
	for _, sess := range s.All() {
		fn(sess)
	}
}

func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *SessionStore) SendTo(id peer.ID, m packet.Message) error {
	sess := s.ByPeer(id)
	if sess == nil || sess.IsClosed() {
		return fmt.Errorf("send to %s: %w", id.Short(), syncerr.ErrNotFound)
	}
	sess.Send(m)
	return nil
}

func (s *SessionStore) Broadcast(m packet.Message) error {
	data := packet.Encode(m)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.byPeer {
		if sess.State() == packet.StateJoined {
			sess.SendRaw(data)
		}
	}
	return nil
}

package cache

import (
	"sort"
	"sync"

	"github.com/backkem/zrtp/pkg/crypto"
)

// MemoryStore is an in-memory Store. Nothing survives the process.
//
// Thread Safety: All methods are safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	selfZID ZID
	peers   map[ZID]*Secrets
}

// NewMemoryStore creates an empty store for the endpoint selfZID.
func NewMemoryStore(selfZID ZID) *MemoryStore {
	return &MemoryStore{
		selfZID: selfZID,
		peers:   make(map[ZID]*Secrets),
	}
}

// SelfZID implements Store.
func (m *MemoryStore) SelfZID() (ZID, error) {
	return m.selfZID, nil
}

// GetSecrets implements Store.
func (m *MemoryStore) GetSecrets(peer ZID) (*Secrets, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.peers[peer]
	if !ok {
		return &Secrets{}, nil
	}
	return s.Clone(), nil
}

// PutRS1 implements Store.
func (m *MemoryStore) PutRS1(peer ZID, rs1 []byte) error {
	if len(rs1) != RetainedSecretLength {
		return ErrInvalidSecret
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.putRS1Locked(peer, rs1)
	return nil
}

func (m *MemoryStore) putRS1Locked(peer ZID, rs1 []byte) {
	s := m.entryLocked(peer)
	crypto.Wipe(s.RS2)
	s.RS2 = s.RS1
	s.RS1 = cloneBytes(rs1)
}

// SetPreviouslyVerifiedSAS implements Store.
func (m *MemoryStore) SetPreviouslyVerifiedSAS(peer ZID, verified bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entryLocked(peer).PreviouslyVerifiedSAS = verified
	return nil
}

// SetAux stores a long term auxiliary secret for peer. A nil aux removes it.
func (m *MemoryStore) SetAux(peer ZID, aux []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.entryLocked(peer)
	crypto.Wipe(s.Aux)
	s.Aux = cloneBytes(aux)
}

// SetPBX stores the trusted MiTM secret for peer. A nil pbx removes it.
func (m *MemoryStore) SetPBX(peer ZID, pbx []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.entryLocked(peer)
	crypto.Wipe(s.PBX)
	s.PBX = cloneBytes(pbx)
}

// Forget wipes and removes everything cached for peer.
func (m *MemoryStore) Forget(peer ZID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.peers[peer]; ok {
		s.Wipe()
		delete(m.peers, peer)
	}
}

// Peers returns the ZIDs of all cached peers in ascending order.
func (m *MemoryStore) Peers() []ZID {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ZID, 0, len(m.peers))
	for z := range m.peers {
		out = append(out, z)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}

// replace swaps the record of peer for s and wipes the old one. A nil s
// removes the peer.
func (m *MemoryStore) replace(peer ZID, s *Secrets) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.peers[peer]; ok {
		old.Wipe()
	}
	if s == nil {
		delete(m.peers, peer)
		return
	}
	m.peers[peer] = s
}

func (m *MemoryStore) entryLocked(peer ZID) *Secrets {
	s, ok := m.peers[peer]
	if !ok {
		s = &Secrets{}
		m.peers[peer] = s
	}
	return s
}

// Package s0 implements Z-Wave Security-0 transport: nonce management
// with a replay blacklist (Module D) and AES-128/CBC-MAC
// encrypt/decrypt (Module E), grounded directly on
// original_source/projects/apps/transport/sl_ts_s0.c.
package s0

import (
	"sync"

	"github.com/siliconlabs/zwave-ip-gateway/internal/shmp"
)

// NonceTableSize and NonceTTL are spec.md §3/§4.D constants.
const (
	NonceTableSize = 30
	NonceTTL       = 10 // seconds
	BlacklistSize  = 10
)

// nonceEntry mirrors spec.md §3 "Nonce entry": (src, dst, nonce[8],
// reply_nonce, ttl). ttl == 0 means logically absent (spec.md
// invariant 4); readers must check live().
type nonceEntry struct {
	src, dst   shmp.NodeId
	nonce      [8]byte
	replyNonce bool
	ttl        uint8
}

func (e *nonceEntry) live() bool { return e.ttl > 0 }

// blacklistEntry mirrors spec.md §3 "Nonce blacklist entry".
type blacklistEntry struct {
	src, dst shmp.NodeId
	nonce    [8]byte
	inUse    bool
}

// NonceStore is the Module D nonce table + replay blacklist. All methods
// are safe for concurrent use; per spec.md §5 the router task and the
// 1Hz tick both touch it.
type NonceStore struct {
	mu      sync.Mutex
	entries [NonceTableSize]nonceEntry

	blacklist     [BlacklistSize]blacklistEntry
	blacklistNext int
}

// NewNonceStore returns an empty store.
func NewNonceStore() *NonceStore {
	return &NonceStore{}
}

// Register stores a nonce sent from src to dst. If replyNonce is true and
// a live reply-nonce already exists for (src,dst), it is overwritten in
// place (spec.md invariant 6: "the reply-nonce slot for a given
// (src,dst) pair is unique; on conflict, the newer reply-nonce
// overwrites"). Otherwise it allocates the first ttl==0 slot. Returns
// false if the table is full, matching register_nonce's uint8 return in
// sl_ts_s0.c.
func (s *NonceStore) Register(src, dst shmp.NodeId, replyNonce bool, nonce [8]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if replyNonce {
		for i := range s.entries {
			e := &s.entries[i]
			if e.replyNonce && e.live() && e.src == src && e.dst == dst {
				e.nonce = nonce
				e.ttl = NonceTTL
				return true
			}
		}
	}

	for i := range s.entries {
		e := &s.entries[i]
		if !e.live() {
			*e = nonceEntry{src: src, dst: dst, replyNonce: replyNonce, nonce: nonce, ttl: NonceTTL}
			return true
		}
	}
	return false
}

// Get finds the first live entry for (src,dst) whose first nonce byte
// equals ri (or any entry, if any is true), copying its nonce into out
// and reporting a hit. Mirrors get_nonce in sl_ts_s0.c.
func (s *NonceStore) Get(src, dst shmp.NodeId, ri uint8, any bool) (nonce [8]byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		e := &s.entries[i]
		if e.live() && e.src == src && e.dst == dst {
			if any || e.nonce[0] == ri {
				return e.nonce, true
			}
		}
	}
	return nonce, false
}

// Clear marks every entry for (src,dst) as expired. Mirrors nonce_clear;
// per spec.md §9 Open Questions this deliberately does NOT touch the
// blacklist.
func (s *NonceStore) Clear(src, dst shmp.NodeId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		e := &s.entries[i]
		if e.live() && e.src == src && e.dst == dst {
			e.ttl = 0
		}
	}
}

// Tick decrements every non-zero TTL once. Called once a second by the
// router loop (Module I).
func (s *NonceStore) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].ttl > 0 {
			s.entries[i].ttl--
		}
	}
}

// HasThree reports whether exactly three live entries exist for
// (src,dst), mirroring has_three_nonces's use bounding receiver-side
// buffering.
func (s *NonceStore) HasThree(src, dst shmp.NodeId) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.entries {
		e := &s.entries[i]
		if e.live() && e.src == src && e.dst == dst {
			n++
		}
	}
	return n == 3
}

// IsBlacklisted reports whether (src,dst,nonce) was already consumed.
func (s *NonceStore) IsBlacklisted(src, dst shmp.NodeId, nonce [8]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.blacklist {
		b := &s.blacklist[i]
		if b.inUse && b.src == src && b.dst == dst && b.nonce == nonce {
			return true
		}
	}
	return false
}

// BlacklistAdd records (src,dst,nonce) as consumed, evicting the oldest
// entry in FIFO order once the blacklist is full (capacity
// BlacklistSize), mirroring sec0_blacklist_add_nonce's circular eviction.
func (s *NonceStore) BlacklistAdd(src, dst shmp.NodeId, nonce [8]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blacklist[s.blacklistNext] = blacklistEntry{src: src, dst: dst, nonce: nonce, inUse: true}
	s.blacklistNext = (s.blacklistNext + 1) % BlacklistSize
}

// BlacklistReset clears the entire blacklist.
func (s *NonceStore) BlacklistReset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.blacklist {
		s.blacklist[i] = blacklistEntry{}
	}
	s.blacklistNext = 0
}

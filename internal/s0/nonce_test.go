package s0

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/siliconlabs/zwave-ip-gateway/internal/shmp"
)

func TestNonceStoreRegisterAndGet(t *testing.T) {
	s := NewNonceStore()
	src, dst := shmp.NodeId(1), shmp.NodeId(2)
	nonce := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}

	require.True(t, s.Register(src, dst, true, nonce))

	got, ok := s.Get(src, dst, nonce[0], false)
	require.True(t, ok)
	require.Equal(t, nonce, got)
}

func TestNonceStoreReplyNonceOverwritesInPlace(t *testing.T) {
	s := NewNonceStore()
	src, dst := shmp.NodeId(1), shmp.NodeId(2)

	require.True(t, s.Register(src, dst, true, [8]byte{1}))
	require.True(t, s.Register(src, dst, true, [8]byte{2}))

	count := 0
	for i := range s.entries {
		e := &s.entries[i]
		if e.live() && e.replyNonce && e.src == src && e.dst == dst {
			count++
		}
	}
	require.Equal(t, 1, count, "a second reply-nonce registration must overwrite, not add a slot")
}

func TestNonceStoreClearDoesNotTouchBlacklist(t *testing.T) {
	s := NewNonceStore()
	src, dst := shmp.NodeId(1), shmp.NodeId(2)
	nonce := [8]byte{9, 9, 9, 9, 9, 9, 9, 9}

	s.BlacklistAdd(src, dst, nonce)
	s.Clear(src, dst)

	require.True(t, s.IsBlacklisted(src, dst, nonce))
}

func TestNonceStoreTickExpiresEntries(t *testing.T) {
	s := NewNonceStore()
	src, dst := shmp.NodeId(1), shmp.NodeId(2)
	nonce := [8]byte{1}
	s.Register(src, dst, true, nonce)

	for i := 0; i < NonceTTL; i++ {
		s.Tick()
	}

	_, ok := s.Get(src, dst, nonce[0], false)
	require.False(t, ok, "entry must expire once its TTL reaches zero")
}

func TestNonceStoreBlacklistFIFOEviction(t *testing.T) {
	s := NewNonceStore()
	src, dst := shmp.NodeId(1), shmp.NodeId(2)

	first := [8]byte{0xAA}
	s.BlacklistAdd(src, dst, first)
	for i := 1; i < BlacklistSize; i++ {
		s.BlacklistAdd(src, dst, [8]byte{byte(i)})
	}
	require.True(t, s.IsBlacklisted(src, dst, first))

	// One more insertion evicts the oldest (FIFO) entry.
	s.BlacklistAdd(src, dst, [8]byte{0xFF})
	require.False(t, s.IsBlacklisted(src, dst, first))
}

func TestNonceStoreHasThree(t *testing.T) {
	s := NewNonceStore()
	src, dst := shmp.NodeId(1), shmp.NodeId(2)

	require.False(t, s.HasThree(src, dst))
	s.Register(src, dst, false, [8]byte{1})
	s.Register(src, dst, false, [8]byte{2})
	s.Register(src, dst, false, [8]byte{3})
	require.True(t, s.HasThree(src, dst))
}

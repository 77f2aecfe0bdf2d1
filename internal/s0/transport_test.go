package s0

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/siliconlabs/zwave-ip-gateway/internal/metrics"
	"github.com/siliconlabs/zwave-ip-gateway/internal/shmp"
)

// newLoopbackTransport wires a Transport whose SendDataFunc simulates a
// single peer node replying to Nonce-Get with a freshly generated
// reply-nonce, registered into the same NonceStore the Transport
// consults — enough to drive the Nonce-Get/Nonce-Report handshake
// end to end without a real SHMP link, per spec.md §8 scenario 4.
func newLoopbackTransport(t *testing.T, us, peer shmp.NodeId) (*Transport, *NonceStore) {
	t.Helper()
	var netKey [16]byte
	_, err := rand.Read(netKey[:])
	require.NoError(t, err)

	nonces := NewNonceStore()
	var transport *Transport
	sendData := func(_ context.Context, dst shmp.NodeId, payload []byte) error {
		if len(payload) == 2 && payload[0] == CCSecurity && payload[1] == CmdSecurityNonceGet {
			var nonce [8]byte
			if _, err := rand.Read(nonce[:]); err != nil {
				return err
			}
			nonces.Register(dst, us, true, nonce)
			transport.DeliverNonceReport(dst, us, nonce)
		}
		return nil
	}

	transport, err = NewTransport(netKey, nonces, sendData, zerolog.Nop(), metrics.New())
	require.NoError(t, err)
	return transport, nonces
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	us := shmp.NodeId(1)
	peer := shmp.NodeId(5)
	transport, _ := newLoopbackTransport(t, us, peer)

	plaintext := []byte{0x25, 0x02} // SwitchBinary Get
	const cmd = 0x81                // SECURITY_MESSAGE_ENCAP

	frame, err := transport.Encrypt(context.Background(), us, peer, cmd, plaintext)
	require.NoError(t, err)

	got, err := transport.Decrypt(us, peer, cmd, frame)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestDecryptRejectsReplayedFrame(t *testing.T) {
	us := shmp.NodeId(1)
	peer := shmp.NodeId(5)
	transport, _ := newLoopbackTransport(t, us, peer)

	plaintext := []byte{0x20, 0x01, 0xFF}
	const cmd = 0x81

	frame, err := transport.Encrypt(context.Background(), us, peer, cmd, plaintext)
	require.NoError(t, err)

	_, err = transport.Decrypt(us, peer, cmd, frame)
	require.NoError(t, err)

	_, err = transport.Decrypt(us, peer, cmd, frame)
	require.ErrorIs(t, err, ErrNonceReplay)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	us := shmp.NodeId(1)
	peer := shmp.NodeId(5)
	transport, _ := newLoopbackTransport(t, us, peer)

	plaintext := []byte{0x20, 0x01, 0xFF}
	const cmd = 0x81

	frame, err := transport.Encrypt(context.Background(), us, peer, cmd, plaintext)
	require.NoError(t, err)
	frame[8] ^= 0xFF // flip a ciphertext byte, MAC no longer matches

	_, err = transport.Decrypt(us, peer, cmd, frame)
	require.ErrorIs(t, err, ErrMacMismatch)
}

func TestDecryptUnknownNonceRejected(t *testing.T) {
	us := shmp.NodeId(1)
	peer := shmp.NodeId(5)
	transport, _ := newLoopbackTransport(t, us, peer)

	// A frame referencing a receiver-nonce byte nobody ever registered.
	frame := make([]byte, 8+3+1+8)
	frame[8+3] = 0xAB

	_, err := transport.Decrypt(us, peer, 0x81, frame)
	require.ErrorIs(t, err, ErrNonceUnknown)
}

func TestKeystreamDeterministic(t *testing.T) {
	var key [16]byte
	copy(key[:], []byte("0123456789abcdef"))
	var iv [16]byte
	copy(iv[:], []byte("fedcba9876543210"))

	a, err := keystream(key, iv, 40)
	require.NoError(t, err)
	b, err := keystream(key, iv, 40)
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, a, 40)
}

func TestCBCMACChangesWithInput(t *testing.T) {
	var key [16]byte
	copy(key[:], []byte("authkeyauthkey12"))

	mac1, err := cbcMAC(key, []byte("hello world"))
	require.NoError(t, err)
	mac2, err := cbcMAC(key, []byte("hello worlD"))
	require.NoError(t, err)
	require.NotEqual(t, mac1, mac2)
}

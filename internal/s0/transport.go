package s0

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/siliconlabs/zwave-ip-gateway/internal/metrics"
	"github.com/siliconlabs/zwave-ip-gateway/internal/shmp"
)

// Security Command Class command ids used for the Nonce-Get/Nonce-Report
// handshake, per the Z-Wave S0 spec (spec.md glossary).
const (
	CCSecurity          uint8 = 0x98
	CmdSecurityNonceGet  uint8 = 0x40
	CmdSecurityNonceReport uint8 = 0x80
	CmdSecurityMessageEncap uint8 = 0x81
)

// nonceGetTimeout bounds how long Encrypt waits for a Nonce-Report
// before retrying once (spec.md §4.E step 1: "awaiting Nonce-Report
// within a bounded time (one retry permitted)").
const nonceGetTimeout = 2 * time.Second

// SendDataFunc sends a raw Command-Class payload to dst over SHMP
// SendData, the collaborator interface that lets Transport stay
// decoupled from internal/zip (which itself depends on s0).
type SendDataFunc func(ctx context.Context, dst shmp.NodeId, payload []byte) error

// Transport implements Module E: encrypt/decrypt of Command-Class
// payloads with nonce-get/report handshake, grounded on spec.md §4.E and
// original_source/projects/apps/transport/sl_ts_s0.c.
type Transport struct {
	kEnc, kAuth [16]byte
	nonces      *NonceStore
	sendData    SendDataFunc
	log         zerolog.Logger
	met         *metrics.Registry

	mu      sync.Mutex
	waiters map[nodePair]chan [8]byte
}

type nodePair struct{ src, dst shmp.NodeId }

// NewTransport constructs a Transport for the given network key.
func NewTransport(networkKey [16]byte, nonces *NonceStore, sendData SendDataFunc, log zerolog.Logger, met *metrics.Registry) (*Transport, error) {
	kEnc, kAuth, err := DeriveKeys(networkKey)
	if err != nil {
		return nil, err
	}
	return &Transport{
		kEnc:     kEnc,
		kAuth:    kAuth,
		nonces:   nonces,
		sendData: sendData,
		log:      log.With().Str("component", "s0.transport").Logger(),
		met:      met,
		waiters:  make(map[nodePair]chan [8]byte),
	}, nil
}

// DeliverNonceReport feeds an inbound Nonce-Report CC frame (payload:
// 8-byte nonce) into Transport, unblocking any Encrypt call awaiting it
// for this (src,dst) pair. Called by internal/zip when it decodes an
// unencrypted Security Nonce-Report destined for the gateway.
func (t *Transport) DeliverNonceReport(src, dst shmp.NodeId, nonce [8]byte) {
	t.mu.Lock()
	ch, ok := t.waiters[nodePair{src: src, dst: dst}]
	t.mu.Unlock()
	if ok {
		select {
		case ch <- nonce:
		default:
		}
	}
}

func (t *Transport) registerWaiter(src, dst shmp.NodeId) chan [8]byte {
	ch := make(chan [8]byte, 1)
	t.mu.Lock()
	t.waiters[nodePair{src: src, dst: dst}] = ch
	t.mu.Unlock()
	return ch
}

func (t *Transport) unregisterWaiter(src, dst shmp.NodeId) {
	t.mu.Lock()
	delete(t.waiters, nodePair{src: src, dst: dst})
	t.mu.Unlock()
}

// requestReceiverNonce runs the Nonce-Get/Nonce-Report handshake with
// dst (spec.md §4.E step 1), permitting one retry on timeout.
func (t *Transport) requestReceiverNonce(ctx context.Context, us, dst shmp.NodeId) ([8]byte, error) {
	var zero [8]byte
	for attempt := 0; attempt < 2; attempt++ {
		ch := t.registerWaiter(dst, us)
		if err := t.sendData(ctx, dst, []byte{CCSecurity, CmdSecurityNonceGet}); err != nil {
			t.unregisterWaiter(dst, us)
			return zero, err
		}
		select {
		case n := <-ch:
			t.unregisterWaiter(dst, us)
			return n, nil
		case <-time.After(nonceGetTimeout):
			t.unregisterWaiter(dst, us)
			continue
		case <-ctx.Done():
			t.unregisterWaiter(dst, us)
			return zero, ctx.Err()
		}
	}
	if t.met != nil {
		t.met.S0NonceTimeout.Inc()
	}
	return zero, ErrNonceTimeout
}

// keystream expands IV into n bytes of CTR-style keystream under K_enc:
// block 0 = AES_ECB(K_enc, IV); subsequent blocks re-encrypt IV treated
// as a big-endian counter, per spec.md §4.E step 4.
func keystream(kEnc [16]byte, iv [16]byte, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	counter := iv
	for len(out) < n {
		block, err := ecbEncryptBlock(kEnc, counter)
		if err != nil {
			return nil, err
		}
		out = append(out, block[:]...)
		incrementBE(&counter)
	}
	return out[:n], nil
}

func incrementBE(b *[16]byte) {
	for i := len(b) - 1; i >= 0; i-- {
		b[i]++
		if b[i] != 0 {
			return
		}
	}
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// cbcMAC computes the CBC-MAC of msg under key, zero-padding to a
// 16-byte boundary, returning the full final block (callers take the
// first 8 bytes per spec.md §4.E step 5).
func cbcMAC(key [16]byte, msg []byte) ([16]byte, error) {
	padded := make([]byte, ((len(msg)+15)/16)*16)
	copy(padded, msg)

	var mac [16]byte
	for i := 0; i < len(padded); i += 16 {
		var block [16]byte
		copy(block[:], padded[i:i+16])
		in := xorBytes(mac[:], block[:])
		var inArr [16]byte
		copy(inArr[:], in)
		out, err := ecbEncryptBlock(key, inArr)
		if err != nil {
			return mac, err
		}
		mac = out
	}
	return mac, nil
}

func macAuthBytes(mac [16]byte) []byte { return mac[:8] }

// macInput builds (IV || cmd_byte || src || dst || len(P) || ciphertext),
// per spec.md §4.E step 5.
func macInput(iv [16]byte, cmd uint8, src, dst shmp.NodeId, plainLen int, ciphertext []byte) []byte {
	buf := make([]byte, 0, 16+1+4+1+len(ciphertext))
	buf = append(buf, iv[:]...)
	buf = append(buf, cmd)
	buf = append(buf, uint8(src>>8), uint8(src))
	buf = append(buf, uint8(dst>>8), uint8(dst))
	buf = append(buf, uint8(plainLen))
	buf = append(buf, ciphertext...)
	return buf
}

// Encrypt implements spec.md §4.E "Encrypt (outbound)": obtains a
// receiver-nonce, derives a fresh sender IV, encrypts plaintext, and
// returns the wire frame si || ciphertext || rn[0] || auth8 ready for
// transmission via SendData.
func (t *Transport) Encrypt(ctx context.Context, src, dst shmp.NodeId, cmd uint8, plaintext []byte) ([]byte, error) {
	rn, err := t.requestReceiverNonce(ctx, src, dst)
	if err != nil {
		return nil, err
	}

	var si [8]byte
	if _, err := rand.Read(si[:]); err != nil {
		return nil, fmt.Errorf("s0: generating sender IV: %w", err)
	}

	var iv [16]byte
	copy(iv[:8], si[:])
	copy(iv[8:], rn[:])

	ks, err := keystream(t.kEnc, iv, len(plaintext))
	if err != nil {
		return nil, err
	}
	ciphertext := xorBytes(plaintext, ks)

	mac, err := cbcMAC(t.kAuth, macInput(iv, cmd, src, dst, len(plaintext), ciphertext))
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 0, 8+len(ciphertext)+1+8)
	frame = append(frame, si[:]...)
	frame = append(frame, ciphertext...)
	frame = append(frame, rn[0])
	frame = append(frame, macAuthBytes(mac)...)
	return frame, nil
}

// Decrypt implements spec.md §4.E "Decrypt (inbound)". src/dst are the
// Z-Wave addresses as seen by the receiver (src = the sender of this
// encrypted frame, dst = us).
func (t *Transport) Decrypt(src, dst shmp.NodeId, cmd uint8, frame []byte) ([]byte, error) {
	if len(frame) < 8+1+8 {
		return nil, fmt.Errorf("s0: frame too short (%d bytes)", len(frame))
	}
	var si [8]byte
	copy(si[:], frame[:8])

	ciphertext := frame[8 : len(frame)-1-8]
	riByte := frame[len(frame)-1-8]
	gotAuth := frame[len(frame)-8:]

	if t.nonces.IsBlacklisted(src, dst, si) {
		if t.met != nil {
			t.met.S0NonceReplay.Inc()
		}
		return nil, ErrNonceReplay
	}

	rn, ok := t.nonces.Get(dst, src, riByte, false)
	if !ok {
		if t.met != nil {
			t.met.S0NonceUnknown.Inc()
		}
		return nil, ErrNonceUnknown
	}

	var iv [16]byte
	copy(iv[:8], si[:])
	copy(iv[8:], rn[:])

	wantMAC, err := cbcMAC(t.kAuth, macInput(iv, cmd, src, dst, len(ciphertext), ciphertext))
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(macAuthBytes(wantMAC), gotAuth) != 1 {
		if t.met != nil {
			t.met.S0MacMismatch.Inc()
		}
		return nil, ErrMacMismatch
	}

	ks, err := keystream(t.kEnc, iv, len(ciphertext))
	if err != nil {
		return nil, err
	}
	plaintext := xorBytes(ciphertext, ks)

	t.nonces.BlacklistAdd(src, dst, si)
	t.nonces.Clear(dst, src)

	return plaintext, nil
}

package s0

import "crypto/aes"

// DeriveKeys computes K_enc and K_auth from the 16-byte network key,
// per spec.md §4.E: K_enc = AES_ECB(K_net, 0x55^16), K_auth =
// AES_ECB(K_net, 0xAA^16).
func DeriveKeys(networkKey [16]byte) (kEnc, kAuth [16]byte, err error) {
	block, err := aes.NewCipher(networkKey[:])
	if err != nil {
		return kEnc, kAuth, err
	}
	var c55, cAA [16]byte
	for i := range c55 {
		c55[i] = 0x55
		cAA[i] = 0xAA
	}
	block.Encrypt(kEnc[:], c55[:])
	block.Encrypt(kAuth[:], cAA[:])
	return kEnc, kAuth, nil
}

// ecbEncryptBlock encrypts a single 16-byte block under key, i.e. one
// AES-ECB "codebook" lookup — the building block both the keystream
// expansion and the CBC-MAC use. ECB mode has no dedicated
// crypto/cipher.BlockMode (rightly: it is unsafe for bulk data), but a
// single-block lookup under a scheme-internal key is exactly what the
// Z-Wave S0 keystream/MAC construction calls for, so we drive
// cipher.Block.Encrypt directly rather than depend on a third-party ECB
// shim that would just do the same thing.
func ecbEncryptBlock(key, block [16]byte) ([16]byte, error) {
	c, err := aes.NewCipher(key[:])
	if err != nil {
		return [16]byte{}, err
	}
	var out [16]byte
	c.Encrypt(out[:], block[:])
	return out, nil
}

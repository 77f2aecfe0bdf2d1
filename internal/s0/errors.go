package s0

import "errors"

// Error taxonomy, spec.md §7 entries (5): S0 decryption failures. Each is
// a distinct kind so application-level retry policy can differ, per
// spec.md §4.E "Failures".
var (
	ErrMacMismatch  = errors.New("s0: CBC-MAC mismatch")
	ErrNonceUnknown = errors.New("s0: no registered reply-nonce for (dst,src,ri)")
	ErrNonceReplay  = errors.New("s0: nonce already blacklisted")
	ErrNonceTimeout = errors.New("s0: no Nonce-Report within budget")
)

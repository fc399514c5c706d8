package udp

import (
	"golang.org/x/crypto/nacl/secretbox"
)

// Mode is the encryption mode name sent in SELECT_PROTOCOL for the default
// sealer.
const Mode = "xsalsa20_poly1305"

// Sealer seals an audio payload with the session's secret key. The header is
// the datagram header the payload will be sent under. Seal appends the
// ciphertext to out and returns the result. It must not keep any of its
// arguments.
type Sealer interface {
	Seal(out []byte, header *[HeaderSize]byte, payload []byte, key *[32]byte) []byte
}

// SealerFunc is a function that implements Sealer.
type SealerFunc func(out []byte, header *[HeaderSize]byte, payload []byte, key *[32]byte) []byte

// Seal calls f.
func (f SealerFunc) Seal(out []byte, header *[HeaderSize]byte, payload []byte, key *[32]byte) []byte {
	return f(out, header, payload, key)
}

// XSalsa20Poly1305 is the default Sealer. The nonce is the header padded with
// zeros to 24 bytes.
var XSalsa20Poly1305 Sealer = SealerFunc(sealSecretbox)

func sealSecretbox(out []byte, header *[HeaderSize]byte, payload []byte, key *[32]byte) []byte {
	var nonce [24]byte
	copy(nonce[:], header[:])

	return secretbox.Seal(out, payload, &nonce, key)
}

// OpenXSalsa20Poly1305 reverses XSalsa20Poly1305. It returns false if the
// payload fails authentication.
func OpenXSalsa20Poly1305(out []byte, header *[HeaderSize]byte, sealed []byte, key *[32]byte) ([]byte, bool) {
	var nonce [24]byte
	copy(nonce[:], header[:])

	return secretbox.Open(out, sealed, &nonce, key)
}

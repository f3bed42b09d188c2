package crypto

import (
	"errors"

	"golang.org/x/crypto/nacl/secretbox"
)

// NonceSize is the secretbox nonce length.
const NonceSize = 24

// KeySize is the secretbox key length.
const KeySize = 32

// Overhead is the authentication tag length added by secretbox.
const Overhead = secretbox.Overhead

// Maximum message size. RTP datagrams never come close; the bound keeps a
// corrupt length from allocating unbounded memory.
const MaxMessageSize = 64 * 1024

// Nonce is a 24-byte value used for encryption.
type Nonce [NonceSize]byte

// ErrDecryptionFailed is returned when a ciphertext fails authentication.
var ErrDecryptionFailed = errors.New("decryption failed: message authentication failed")

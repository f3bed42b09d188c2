package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
)

var (
	// ErrInvalidKey is returned when the shared secret is not KeySize bytes.
	ErrInvalidKey = errors.New("shared secret must be 32 bytes")

	// ErrShortCiphertext is returned when a datagram cannot hold header, tag and trailer.
	ErrShortCiphertext = errors.New("datagram too short for encryption mode")

	// ErrContextClosed is returned after Close has wiped the key.
	ErrContextClosed = errors.New("encryption context closed")
)

// EncryptionContext seals outbound and opens inbound packets for a single
// connection. The nonce counter and scratch nonce buffers belong to the
// instance and must not be shared across connections.
type EncryptionContext struct {
	mu        sync.Mutex
	key       [KeySize]byte
	mode      EncryptionMode
	counter   uint32
	sealNonce Nonce
	openNonce Nonce
	random    io.Reader
	closed    bool
}

// NewEncryptionContext creates a context for the shared secret negotiated by
// the caller. The secret is copied; the caller may wipe its own copy.
func NewEncryptionContext(secret []byte, mode EncryptionMode) (*EncryptionContext, error) {
	if len(secret) != KeySize {
		NewLogger("NewEncryptionContext").
			WithField("key_size", len(secret)).
			Warn("Rejected shared secret with invalid length")
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(secret))
	}
	if mode < ModeNormal || mode > ModeLiteCounter {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, int(mode))
	}

	ctx := &EncryptionContext{
		mode:   mode,
		random: rand.Reader,
	}
	copy(ctx.key[:], secret)

	NewLogger("NewEncryptionContext").
		WithField("mode", mode.String()).
		Info("Encryption context created")

	return ctx, nil
}

// Mode returns the mode selected for this connection.
func (c *EncryptionContext) Mode() EncryptionMode {
	return c.mode
}

// Counter returns the last nonce counter value used in ModeLiteCounter.
func (c *EncryptionContext) Counter() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counter
}

// Seal encrypts plaintext and returns the complete datagram:
// header || secretbox(plaintext) || trailer. The header is sent in clear and,
// in ModeNormal, doubles as the nonce.
func (c *EncryptionContext) Seal(header, plaintext []byte) ([]byte, error) {
	if len(plaintext) > MaxMessageSize {
		return nil, errors.New("message too large")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrContextClosed
	}

	var trailer []byte
	c.sealNonce = Nonce{}
	switch c.mode {
	case ModeNormal:
		copy(c.sealNonce[:], header)
	case ModeSuffixAppended:
		if _, err := io.ReadFull(c.random, c.sealNonce[:]); err != nil {
			return nil, fmt.Errorf("failed to generate nonce: %w", err)
		}
		trailer = c.sealNonce[:]
	case ModeLiteCounter:
		c.counter++
		binary.BigEndian.PutUint32(c.sealNonce[:4], c.counter)
		trailer = c.sealNonce[:4]
	}

	out := make([]byte, len(header), len(header)+len(plaintext)+Overhead+len(trailer))
	copy(out, header)
	out = secretbox.Seal(out, plaintext, (*[NonceSize]byte)(&c.sealNonce), &c.key)
	out = append(out, trailer...)

	return out, nil
}

// Open authenticates and decrypts a datagram whose first headerLen bytes are
// the cleartext header. The nonce is taken from the header or from the
// trailing bytes depending on the mode.
func (c *EncryptionContext) Open(datagram []byte, headerLen int) ([]byte, error) {
	trailerLen := c.mode.TrailerSize()
	if headerLen < 0 || headerLen > len(datagram) || len(datagram)-headerLen < Overhead+trailerLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortCiphertext, len(datagram))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrContextClosed
	}

	end := len(datagram) - trailerLen
	c.openNonce = Nonce{}
	switch c.mode {
	case ModeNormal:
		copy(c.openNonce[:], datagram[:headerLen])
	default:
		copy(c.openNonce[:], datagram[end:])
	}

	out, ok := secretbox.Open(nil, datagram[headerLen:end], (*[NonceSize]byte)(&c.openNonce), &c.key)
	if !ok {
		NewLogger("EncryptionContext.Open").
			WithFields(SecureFieldHash(c.openNonce[:], "nonce")).
			WithField("mode", c.mode.String()).
			WithError(ErrDecryptionFailed, "open").
			Debug("Packet failed authentication")
		return nil, ErrDecryptionFailed
	}

	return out, nil
}

// Close wipes the shared key. Further Seal and Open calls fail.
func (c *EncryptionContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	ZeroBytes(c.key[:])
	ZeroBytes(c.sealNonce[:])
	ZeroBytes(c.openNonce[:])
	c.closed = true
	return nil
}

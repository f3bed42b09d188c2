package crypto

import (
	"errors"
	"fmt"
)

// EncryptionMode selects how the per-packet nonce is derived and whether
// it travels on the wire after the ciphertext.
type EncryptionMode int

const (
	// ModeNormal derives the nonce from the cleartext packet header.
	ModeNormal EncryptionMode = iota
	// ModeSuffixAppended uses 24 random bytes per packet, appended to the datagram.
	ModeSuffixAppended
	// ModeLiteCounter uses an incrementing 32-bit counter, of which 4 bytes are appended.
	ModeLiteCounter
)

// Wire names used by the voice gateway when it announces the session mode.
const (
	ModeNameNormal         = "xsalsa20_poly1305"
	ModeNameSuffixAppended = "xsalsa20_poly1305_suffix"
	ModeNameLiteCounter    = "xsalsa20_poly1305_lite"
)

// ErrUnknownMode is returned when a mode name is not one of the supported wire names.
var ErrUnknownMode = errors.New("unknown encryption mode")

// ParseEncryptionMode maps a wire name to an EncryptionMode.
func ParseEncryptionMode(name string) (EncryptionMode, error) {
	switch name {
	case ModeNameNormal:
		return ModeNormal, nil
	case ModeNameSuffixAppended:
		return ModeSuffixAppended, nil
	case ModeNameLiteCounter:
		return ModeLiteCounter, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMode, name)
	}
}

// String returns the wire name of the mode.
func (m EncryptionMode) String() string {
	switch m {
	case ModeNormal:
		return ModeNameNormal
	case ModeSuffixAppended:
		return ModeNameSuffixAppended
	case ModeLiteCounter:
		return ModeNameLiteCounter
	default:
		return fmt.Sprintf("EncryptionMode(%d)", int(m))
	}
}

// TrailerSize is the number of nonce bytes the mode appends after the ciphertext.
func (m EncryptionMode) TrailerSize() int {
	switch m {
	case ModeSuffixAppended:
		return NonceSize
	case ModeLiteCounter:
		return 4
	default:
		return 0
	}
}

package rtp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// ExtensionBlockSize is the size of the one-byte-header extension block
// prepended to every outbound payload before encryption.
const ExtensionBlockSize = 20

// ExtensionProfile is the RFC 8285 one-byte header profile marker.
const ExtensionProfile = 0xBEDE

// ReservedFieldValue is written into the second extension element.
const ReservedFieldValue = 0xfff

// Three elements are patched per packet: abs-send-time at bytes 5..7, the
// reserved field at 9..11 and the streaming sequence at 13..14.
var extensionTemplate = [ExtensionBlockSize]byte{
	0xbe, 0xde, 0x00, 0x04,
	0x32, 0x00, 0x00, 0x00,
	0x22, 0x00, 0x00, 0x00,
	0x51, 0x00, 0x00, 0x40,
	0x00, 0x00, 0x00, 0x00,
}

// ErrMalformedExtension is returned when a declared extension overruns the payload.
var ErrMalformedExtension = errors.New("malformed RTP header extension")

// AbsSendTime converts wall-clock time to the 24-bit 6.18 fixed-point
// seconds value carried in the extension block.
func AbsSendTime(now time.Time) uint32 {
	ms := uint64(now.UnixMilli())
	return uint32(((ms<<18)+500)/1000) & 0xffffff
}

// BuildExtension returns the extension block for one packet.
func BuildExtension(now time.Time, sequence uint16) [ExtensionBlockSize]byte {
	block := extensionTemplate

	t := AbsSendTime(now)
	block[5] = byte(t >> 16)
	block[6] = byte(t >> 8)
	block[7] = byte(t)

	block[9] = byte(ReservedFieldValue >> 16)
	block[10] = byte(ReservedFieldValue >> 8)
	block[11] = byte(ReservedFieldValue & 0xff)

	binary.BigEndian.PutUint16(block[13:15], sequence)

	return block
}

// StripExtension removes a leading one-byte-header extension from a
// decrypted payload. Payloads that do not start with the profile marker, or
// are no longer than 4 bytes, are returned unchanged.
//
// The declared length is walked as an element count: an ID of 0 is one byte
// of padding, any other element is its header byte plus 1+L data bytes. One
// extra byte the gateway places after the elements is skipped, and the
// result never starts before the declared word boundary.
func StripExtension(payload []byte) ([]byte, error) {
	if len(payload) <= 4 || payload[0] != 0xbe || payload[1] != 0xde {
		return payload, nil
	}

	count := int(binary.BigEndian.Uint16(payload[2:4]))
	offset := 4
	for i := 0; i < count; i++ {
		if offset >= len(payload) {
			return nil, fmt.Errorf("%w: element %d at offset %d", ErrMalformedExtension, i, offset)
		}
		b := payload[offset]
		offset++
		if b == 0 {
			continue
		}
		offset += 1 + int(b&0x0f)
	}
	offset++

	if boundary := 4 + 4*count; offset < boundary {
		offset = boundary
	}
	if offset > len(payload) {
		return nil, fmt.Errorf("%w: offset %d beyond %d bytes", ErrMalformedExtension, offset, len(payload))
	}

	return payload[offset:], nil
}

package crypto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"
)

func testKey() []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i + 1)
	}
	return key
}

func testHeader() []byte {
	return []byte{0x90, 0x65, 0x06, 0x2f, 0x00, 0x00, 0x0b, 0xb8, 0xde, 0xad, 0xbe, 0xef}
}

func TestNewEncryptionContext(t *testing.T) {
	cases := []struct {
		name      string
		key       []byte
		mode      EncryptionMode
		wantError error
	}{
		{name: "Normal mode", key: testKey(), mode: ModeNormal},
		{name: "Suffix mode", key: testKey(), mode: ModeSuffixAppended},
		{name: "Lite mode", key: testKey(), mode: ModeLiteCounter},
		{name: "Short key", key: make([]byte, 16), mode: ModeNormal, wantError: ErrInvalidKey},
		{name: "Nil key", key: nil, mode: ModeNormal, wantError: ErrInvalidKey},
		{name: "Unknown mode", key: testKey(), mode: EncryptionMode(9), wantError: ErrUnknownMode},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, err := NewEncryptionContext(tc.key, tc.mode)
			if tc.wantError != nil {
				if !errors.Is(err, tc.wantError) {
					t.Fatalf("NewEncryptionContext() error = %v, want %v", err, tc.wantError)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewEncryptionContext() unexpected error: %v", err)
			}
			if ctx.Mode() != tc.mode {
				t.Errorf("Mode() = %v, want %v", ctx.Mode(), tc.mode)
			}
		})
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	payload := []byte("opus frame or nal unit bytes")

	for _, mode := range []EncryptionMode{ModeNormal, ModeSuffixAppended, ModeLiteCounter} {
		t.Run(mode.String(), func(t *testing.T) {
			sender, err := NewEncryptionContext(testKey(), mode)
			if err != nil {
				t.Fatalf("sender: %v", err)
			}
			receiver, err := NewEncryptionContext(testKey(), mode)
			if err != nil {
				t.Fatalf("receiver: %v", err)
			}

			datagram, err := sender.Seal(testHeader(), payload)
			if err != nil {
				t.Fatalf("Seal() error: %v", err)
			}

			wantLen := len(testHeader()) + len(payload) + Overhead + mode.TrailerSize()
			if len(datagram) != wantLen {
				t.Errorf("datagram length = %d, want %d", len(datagram), wantLen)
			}
			if !bytes.Equal(datagram[:12], testHeader()) {
				t.Error("header was not left in clear")
			}

			plaintext, err := receiver.Open(datagram, 12)
			if err != nil {
				t.Fatalf("Open() error: %v", err)
			}
			if !bytes.Equal(plaintext, payload) {
				t.Errorf("Open() = %x, want %x", plaintext, payload)
			}
		})
	}
}

func TestOpenRTCPHeaderLength(t *testing.T) {
	header := []byte{0x81, 0xce, 0x00, 0x02, 0x00, 0x00, 0x00, 0x01}
	body := []byte{0xde, 0xad, 0xbe, 0xef}

	for _, mode := range []EncryptionMode{ModeNormal, ModeSuffixAppended, ModeLiteCounter} {
		ctx, _ := NewEncryptionContext(testKey(), mode)
		datagram, err := ctx.Seal(header, body)
		if err != nil {
			t.Fatalf("%s: Seal() error: %v", mode, err)
		}
		got, err := ctx.Open(datagram, 8)
		if err != nil {
			t.Fatalf("%s: Open() error: %v", mode, err)
		}
		if !bytes.Equal(got, body) {
			t.Errorf("%s: Open() = %x, want %x", mode, got, body)
		}
	}
}

func TestOpenRejectsTamperedDatagram(t *testing.T) {
	ctx, _ := NewEncryptionContext(testKey(), ModeLiteCounter)
	datagram, err := ctx.Seal(testHeader(), []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	datagram[14] ^= 0xff
	if _, err := ctx.Open(datagram, 12); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("Open() error = %v, want ErrDecryptionFailed", err)
	}
}

func TestOpenWrongKey(t *testing.T) {
	sender, _ := NewEncryptionContext(testKey(), ModeSuffixAppended)
	other := testKey()
	other[0] ^= 0xff
	receiver, _ := NewEncryptionContext(other, ModeSuffixAppended)

	datagram, _ := sender.Seal(testHeader(), []byte("payload"))
	if _, err := receiver.Open(datagram, 12); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("Open() error = %v, want ErrDecryptionFailed", err)
	}
}

func TestOpenLogsAuthenticationFailure(t *testing.T) {
	buf := captureLogs(t)

	ctx, _ := NewEncryptionContext(testKey(), ModeNormal)
	datagram, _ := ctx.Seal(testHeader(), []byte("payload"))
	datagram[len(datagram)-1] ^= 0x01

	if _, err := ctx.Open(datagram, 12); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("Open() error = %v, want ErrDecryptionFailed", err)
	}

	out := buf.String()
	for _, want := range []string{`"function":"EncryptionContext.Open"`, `"operation":"open"`, `"error":"decryption failed: message authentication failed"`, `"mode":"xsalsa20_poly1305"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %s missing %s", out, want)
		}
	}
}

func TestOpenShortDatagram(t *testing.T) {
	ctx, _ := NewEncryptionContext(testKey(), ModeSuffixAppended)
	if _, err := ctx.Open(make([]byte, 30), 12); !errors.Is(err, ErrShortCiphertext) {
		t.Fatalf("Open() error = %v, want ErrShortCiphertext", err)
	}
}

func TestLiteCounterTrailer(t *testing.T) {
	ctx, _ := NewEncryptionContext(testKey(), ModeLiteCounter)

	for want := uint32(1); want <= 3; want++ {
		datagram, err := ctx.Seal(testHeader(), []byte{0xf8, 0xff, 0xfe})
		if err != nil {
			t.Fatalf("Seal() error: %v", err)
		}
		got := binary.BigEndian.Uint32(datagram[len(datagram)-4:])
		if got != want {
			t.Errorf("trailer counter = %d, want %d", got, want)
		}
	}
}

func TestLiteCounterWraps(t *testing.T) {
	ctx, _ := NewEncryptionContext(testKey(), ModeLiteCounter)
	ctx.counter = math.MaxUint32 - 1

	first, _ := ctx.Seal(testHeader(), []byte{1})
	second, _ := ctx.Seal(testHeader(), []byte{1})

	if got := binary.BigEndian.Uint32(first[len(first)-4:]); got != math.MaxUint32 {
		t.Errorf("first counter = %d, want %d", got, uint32(math.MaxUint32))
	}
	if got := binary.BigEndian.Uint32(second[len(second)-4:]); got != 0 {
		t.Errorf("counter after wrap = %d, want 0", got)
	}
	if ctx.Counter() != 0 {
		t.Errorf("Counter() = %d, want 0", ctx.Counter())
	}

	plaintext, err := ctx.Open(second, 12)
	if err != nil || !bytes.Equal(plaintext, []byte{1}) {
		t.Fatalf("Open() after wrap = %x, %v", plaintext, err)
	}
}

func TestSuffixNonceIsFreshPerPacket(t *testing.T) {
	ctx, _ := NewEncryptionContext(testKey(), ModeSuffixAppended)

	a, _ := ctx.Seal(testHeader(), []byte("same"))
	b, _ := ctx.Seal(testHeader(), []byte("same"))

	if bytes.Equal(a[len(a)-NonceSize:], b[len(b)-NonceSize:]) {
		t.Error("two packets were sealed with the same random nonce")
	}
}

func TestContextsDoNotShareNonceState(t *testing.T) {
	a, _ := NewEncryptionContext(testKey(), ModeLiteCounter)
	b, _ := NewEncryptionContext(testKey(), ModeLiteCounter)

	for i := 0; i < 5; i++ {
		_, _ = a.Seal(testHeader(), []byte{byte(i)})
	}
	_, _ = b.Seal(testHeader(), []byte{0})

	if a.Counter() != 5 || b.Counter() != 1 {
		t.Errorf("counters leaked across contexts: a=%d b=%d", a.Counter(), b.Counter())
	}
}

func TestCloseWipesKey(t *testing.T) {
	ctx, _ := NewEncryptionContext(testKey(), ModeNormal)
	if err := ctx.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	if !bytes.Equal(ctx.key[:], make([]byte, KeySize)) {
		t.Error("key was not wiped")
	}
	if _, err := ctx.Seal(testHeader(), []byte{1}); !errors.Is(err, ErrContextClosed) {
		t.Errorf("Seal() after Close error = %v, want ErrContextClosed", err)
	}
	if _, err := ctx.Open(make([]byte, 64), 12); !errors.Is(err, ErrContextClosed) {
		t.Errorf("Open() after Close error = %v, want ErrContextClosed", err)
	}
}

func TestParseEncryptionMode(t *testing.T) {
	cases := []struct {
		name    string
		want    EncryptionMode
		trailer int
	}{
		{ModeNameNormal, ModeNormal, 0},
		{ModeNameSuffixAppended, ModeSuffixAppended, 24},
		{ModeNameLiteCounter, ModeLiteCounter, 4},
	}

	for _, tc := range cases {
		got, err := ParseEncryptionMode(tc.name)
		if err != nil {
			t.Fatalf("ParseEncryptionMode(%q) error: %v", tc.name, err)
		}
		if got != tc.want {
			t.Errorf("ParseEncryptionMode(%q) = %v, want %v", tc.name, got, tc.want)
		}
		if got.String() != tc.name {
			t.Errorf("String() = %q, want %q", got.String(), tc.name)
		}
		if got.TrailerSize() != tc.trailer {
			t.Errorf("%s TrailerSize() = %d, want %d", tc.name, got.TrailerSize(), tc.trailer)
		}
	}

	if _, err := ParseEncryptionMode("aead_aes256_gcm"); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("unsupported mode error = %v, want ErrUnknownMode", err)
	}
}

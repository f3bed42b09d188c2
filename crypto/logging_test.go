package crypto

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	out, level, formatter := logrus.StandardLogger().Out, logrus.GetLevel(), logrus.StandardLogger().Formatter
	logrus.SetOutput(&buf)
	logrus.SetLevel(logrus.DebugLevel)
	logrus.SetFormatter(&logrus.JSONFormatter{})
	t.Cleanup(func() {
		logrus.SetOutput(out)
		logrus.SetLevel(level)
		logrus.SetFormatter(formatter)
	})
	return &buf
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger("Seal")
	if logger.function != "Seal" {
		t.Errorf("function = %q, want Seal", logger.function)
	}
	if logger.fields["package"] != "crypto" {
		t.Errorf("package field = %v, want crypto", logger.fields["package"])
	}
}

func TestLoggerHelperFields(t *testing.T) {
	buf := captureLogs(t)

	NewLogger("Open").
		WithField("mode", ModeNameLiteCounter).
		WithFields(logrus.Fields{"size": 42}).
		WithError(errors.New("boom"), "authenticate").
		Warn("Packet rejected")

	out := buf.String()
	for _, want := range []string{`"function":"Open"`, `"mode":"xsalsa20_poly1305_lite"`, `"size":42`, `"error":"boom"`, `"operation":"authenticate"`, `"level":"warning"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %s missing %s", out, want)
		}
	}
}

func TestLoggerHelperLevels(t *testing.T) {
	buf := captureLogs(t)

	NewLogger("f").Debug("debug message")
	NewLogger("f").Info("info message")

	out := buf.String()
	if !strings.Contains(out, "debug message") || !strings.Contains(out, "info message") {
		t.Errorf("missing messages in %s", out)
	}
}

func TestSecureFieldHash(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		preview string
		size    int
	}{
		{"nil", nil, "nil", 0},
		{"short", []byte{0xde, 0xad}, "dead", 2},
		{"exact", []byte{1, 2, 3, 4, 5, 6, 7, 8}, "0102030405060708", 8},
		{"long", make([]byte, 24), "0000000000000000...", 24},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := SecureFieldHash(tt.data, "nonce")
			if fields["nonce_preview"] != tt.preview {
				t.Errorf("preview = %v, want %s", fields["nonce_preview"], tt.preview)
			}
			if fields["nonce_size"] != tt.size {
				t.Errorf("size = %v, want %d", fields["nonce_size"], tt.size)
			}
		})
	}
}

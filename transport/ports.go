package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/sirupsen/logrus"
)

// ErrNoPortAvailable is returned when every port in a range is taken.
var ErrNoPortAvailable = errors.New("no UDP port available in range")

// ListenFirstAvailable binds the first free UDP port in [first, last] on
// host and returns the connection with the port it got.
func ListenFirstAvailable(host string, first, last int) (net.PacketConn, int, error) {
	if first <= 0 || last < first || last > 65535 {
		return nil, 0, fmt.Errorf("invalid port range %d-%d", first, last)
	}

	var lastErr error
	for port := first; port <= last; port++ {
		conn, err := net.ListenPacket("udp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			lastErr = err
			continue
		}

		logrus.WithFields(logrus.Fields{
			"function": "ListenFirstAvailable",
			"addr":     conn.LocalAddr().String(),
		}).Debug("Bound local UDP port")

		return conn, port, nil
	}

	return nil, 0, fmt.Errorf("%w %d-%d: %v", ErrNoPortAvailable, first, last, lastErr)
}

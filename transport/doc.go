// Package transport provides the UDP datagram transport between a media
// connection and the voice server.
//
// UDPTransport satisfies the av.Sender interface for outbound media and
// delivers inbound datagrams, in order, to a single handler:
//
//	t, err := transport.DialUDP(":0", "voice.example.net:50004")
//	if err != nil {
//	    return err
//	}
//	t.SetHandler(func(datagram []byte, _ net.Addr) {
//	    handler.Push(datagram)
//	})
//	t.Start()
//	defer t.Close()
//
// ListenFirstAvailable probes a port range for local listeners such as the
// encoder ingest socket.
package transport

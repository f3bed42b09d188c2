// Package mediagate sends and receives real-time media on a voice gateway
// session.
//
// A Connection owns the shared encryption context of one session, the table
// mapping SSRCs to participants, an inbound packet handler and at most one
// audio and one video dispatcher. Keys, SSRCs and the encryption mode are
// negotiated elsewhere and passed in.
//
// # Getting Started
//
//	options := mediagate.LoadOptionsFromEnv()
//	udp, err := transport.DialUDP(options.LocalAddr, options.ServerAddr)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	conn, err := mediagate.NewConnection(options, mediagate.ConnectionConfig{
//	    Secret: secret,
//	    Sender: udp,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Close()
//
//	udp.SetHandler(conn.HandleDatagram)
//	udp.Start()
//
//	video, _ := conn.PlayVideo(av.DispatcherCallbacks{})
//	video.WriteNAL(nal, timestamp, options.MTU, true)
//
// # Receiving
//
// Register participants with AddParticipant as the gateway announces them,
// then call Receive to get a stream of decrypted payloads for one of them.
// Streams created with av.EndOnSilence close when the participant goes
// quiet.
//
// # Configuration
//
// NewOptions returns defaults. LoadOptionsFromEnv overrides them from
// MEDIAGATE_* environment variables, and cmd/mediagate layers flags on top.
package mediagate

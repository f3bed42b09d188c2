// Package av implements the media path of a voice/video gateway connection.
//
// # Outbound
//
// A Dispatcher turns elementary-stream units into encrypted RTP datagrams.
// Each datagram is a 12-byte RTP header, followed by the sealed 20-byte
// one-byte-header extension block and the codec payload, followed by the
// trailer of the connection's encryption mode:
//
//	enc, _ := crypto.NewEncryptionContext(secret, crypto.ModeLiteCounter)
//	d, err := av.NewDispatcher(udp, enc, av.DefaultDispatcherConfig(video.CodecH264, ssrc))
//	if err != nil {
//	    return err
//	}
//	defer d.Close()
//
//	for _, nal := range accessUnit {
//	    d.WriteNAL(nal, ts, av.DefaultMTU, nal == accessUnit[len(accessUnit)-1])
//	}
//
// The dispatcher moves through Idle, Started, Streaming and finally Finished
// or Errored, reporting transitions through DispatcherCallbacks. Transport
// failures never stop playback; they surface through OnDebug.
//
// # Inbound
//
// A PacketHandler demultiplexes inbound datagrams. RTCP is decrypted and
// handed to the registered RTCPHandler, normally the video Dispatcher, which
// answers picture loss indications by resending its cached keyframe. RTP is
// attributed through an SSRCMap, decrypted, stripped of its extension block
// and pushed to the participant's stream:
//
//	h, _ := av.NewPacketHandler(enc, table, av.HandlerConfig{})
//	stream, _ := h.MakeStream(userID, av.EndOnSilence)
//	for {
//	    payload, err := stream.Read(ctx)
//	    if err != nil {
//	        break
//	    }
//	    decode(payload)
//	}
//
// Speaking state is tracked per SSRC with a 250 ms quiet window.
//
// # Local ingest
//
// Ingest listens for RTP from a local encoder and routes payload type 96 to
// the video dispatcher and 97 to the audio dispatcher.
package av

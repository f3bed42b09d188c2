package av

import "errors"

// Sentinel errors for av package operations.
// These errors enable reliable error classification using errors.Is().

// Dispatcher construction errors.
var (
	// ErrNilSender indicates no datagram sender was supplied.
	ErrNilSender = errors.New("sender cannot be nil")

	// ErrNilEncryption indicates no encryption context was supplied.
	ErrNilEncryption = errors.New("encryption context cannot be nil")

	// ErrNilSSRCMap indicates no SSRC mapping was supplied.
	ErrNilSSRCMap = errors.New("SSRC map cannot be nil")
)

// Send errors.
var (
	// ErrDispatcherClosed indicates the dispatcher has finished or failed.
	ErrDispatcherClosed = errors.New("dispatcher is closed")

	// ErrCodecMismatch indicates an operation that the dispatcher's codec
	// does not support, such as writing NAL units to a VP8 dispatcher.
	ErrCodecMismatch = errors.New("operation not supported by codec")

	// ErrTransportSend indicates a datagram could not be handed to the
	// transport. It is reported through the debug callback, never returned.
	ErrTransportSend = errors.New("failed to send a packet")

	// ErrNoKeyframe indicates a keyframe was requested before one was sent.
	ErrNoKeyframe = errors.New("no keyframe cached")
)

// Receive errors.
var (
	// ErrDecrypt indicates an inbound packet failed authentication.
	ErrDecrypt = errors.New("failed to decrypt voice packet")

	// ErrStreamClosed indicates a read from a participant stream that has ended.
	ErrStreamClosed = errors.New("participant stream closed")

	// ErrHandlerClosed indicates the packet handler has been torn down.
	ErrHandlerClosed = errors.New("packet handler is closed")

	// ErrIngestUnavailable indicates no local ingest port could be bound.
	ErrIngestUnavailable = errors.New("no ingest port available")
)

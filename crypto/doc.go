// Package crypto implements the per-connection packet encryption used by the
// media transport.
//
// Every RTP and RTCP datagram exchanged with the voice gateway is sealed with
// NaCl secretbox (XSalsa20-Poly1305) under the session key handed to us by the
// caller. Three nonce schemes are supported and selected once per connection:
//
//   - [ModeNormal]: the cleartext packet header, zero-padded to 24 bytes, is
//     the nonce. Nothing is appended to the datagram.
//   - [ModeSuffixAppended]: a fresh random 24-byte nonce per packet, appended
//     after the ciphertext.
//   - [ModeLiteCounter]: a 32-bit counter that increments per packet and
//     wraps to zero; only its 4 big-endian bytes are appended.
//
// # Encryption Context
//
// [EncryptionContext] owns the key, the counter and its scratch nonce
// buffers. One context is created per connection:
//
//	mode, err := crypto.ParseEncryptionMode("xsalsa20_poly1305_lite")
//	if err != nil {
//	    return err
//	}
//	ctx, err := crypto.NewEncryptionContext(secretKey, mode)
//	if err != nil {
//	    return err
//	}
//	defer ctx.Close()
//
//	datagram, err := ctx.Seal(header, payload)
//	plaintext, err := ctx.Open(datagram, 12)
//
// Authentication failures surface as [ErrDecryptionFailed] and never panic;
// callers decide whether to drop the packet or tear down a stream.
//
// # Secure Memory
//
// [SecureWipe] and [ZeroBytes] clear key material. [EncryptionContext.Close]
// wipes the key and nonce buffers.
package crypto

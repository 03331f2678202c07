// Package websocket implements the server side of RFC 6455 on top of the
// non-blocking connection slots.
//
// The pieces, from the wire up:
//
//   - CheckHandshake and HandshakeResponse validate the upgrade request and
//     build the 101 response with the derived Sec-WebSocket-Accept key.
//   - Decoder turns bytes into frames incrementally and unmasks payloads.
//     AppendFrame encodes unmasked server frames.
//   - Engine assembles fragmented messages, answers pings, runs the close
//     handshake and maps protocol errors to close codes.
//   - Conn and Handler are what application code sees.
//
// Frame layout (RFC 6455 section 5.2):
//
//	byte 0: FIN | RSV1 | RSV2 | RSV3 | opcode(4)
//	byte 1: MASK | payload len(7)
//	then 0, 2 or 8 bytes of extended length (big-endian),
//	then a 4-byte mask key if MASK is set, then the payload.
package websocket

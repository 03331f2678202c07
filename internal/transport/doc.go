// Package transport provides the byte streams the connection slots poll.
//
// A Stream never blocks the poll loop on reads: each net.Conn backed stream
// has a reader goroutine that fills a bounded buffer, and TryRead only looks
// at that buffer. For TLS the same goroutine runs the handshake first, so a
// slow client cannot stall other connections.
//
// The package also owns TLS setup: the modern and legacy (CC3200-style RSA
// suites, TLS 1.2 only) profiles, self-signed certificate generation, and
// scheduled session ticket key rotation.
package transport

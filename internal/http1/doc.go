// Package http1 contains the HTTP/1.x request and response model used by the
// connection slots: a resumable request-head parser, a single-pass body
// reader that understands Content-Length and chunked coding, and a response
// writer that picks the body framing for keep-alive connections.
//
// # Parsing
//
// HeadParser never blocks. Callers hand it whatever bytes are available and
// it reports NeedMore until the empty line that ends the head has been seen:
//
//	p := http1.NewHeadParser(http1.DefaultLimits())
//	n, status, err := p.Feed(buf)
//	if status == http1.Done {
//		req := p.Request()
//		// buf[n:] is the start of the body
//	}
//
// Failures carry an ErrorKind so the connection can answer with 400 or 413.
//
// # Responses
//
// Response buffers small bodies so they can be sent with a Content-Length and
// the connection kept open. Larger bodies switch to chunked coding on HTTP/1.1
// and to close-delimited bodies on HTTP/1.0.
package http1

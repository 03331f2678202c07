// Package bodyparser reads HTML form submissions from a request body as a
// stream of fields.
//
// Two formats are supported, selected by New from the Content-Type header:
// application/x-www-form-urlencoded and multipart/form-data. Neither parser
// holds the whole body in memory. URL-encoded pairs are limited to a maximum
// size each; multipart part contents are exposed as readers.
//
// URL-encoded values are decoded leniently because they come straight from
// end users: a broken escape such as "%zz" is passed through as-is. Path
// decoding in package http1 is strict.
package bodyparser

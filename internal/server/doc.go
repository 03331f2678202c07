// Package server implements the connection manager: a fixed arena of
// connection slots advanced by a single poll loop.
//
// # Slots and phases
//
// Each accepted stream occupies one slot. A slot moves through these phases:
//
//	Idle -> ReadingHead -> Routing -> Dispatching -> ResponsePending
//	     -> KeepAliveWait -> ReadingHead ...           (persistent)
//	     -> Closing -> Idle                              (otherwise)
//	Routing -> WebSocketUpgrade -> WebSocketActive -> Closing
//
// Reading a request head and WebSocket traffic never block the loop: a slot
// reads what its stream has buffered, feeds the resumable parsers and yields.
// A handler runs to completion inside Dispatching; body reads there wait for
// data up to Config.BodyReadTimeout.
//
// # Persistent connections
//
// After a response the unread remainder of a Content-Length body is
// discarded without blocking before the next head is parsed. Unread chunked
// bodies, or leftovers above Config.MaxDrainBytes, close the connection.
//
// # Errors
//
// Malformed heads get a 400 (413 for exceeded limits) and the connection is
// closed. Unknown paths get 404, or the default handler if one is set; a
// path bound for other methods gets 405 with an Allow header. Transport
// write errors close the slot silently.
//
// # Usage
//
//	srv := server.New(server.DefaultConfig(), transport.NewTLSFactory(cfg, transport.DefaultOptions()))
//	srv.HandleFunc(http1.Methods{http1.MethodGet}, "/users/{id}", func(req *http1.Request, res *http1.Response) {
//		res.WriteString("user " + req.Param("id"))
//	})
//	srv.HandleWebSocket("/ws", websocket.HandlerFuncs{
//		Message: func(c *websocket.Conn, m websocket.Message) { c.SendText(m.Text()) },
//	})
//	err := srv.ListenAndServe(ctx)
package server

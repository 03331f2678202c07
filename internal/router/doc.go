// Package router resolves request paths against registered patterns.
//
// Patterns are made of literal segments and named parameters:
//
//	/users/{id}/posts/{post}
//
// Each tree position has at most one parameter child, so "/a/{id}" and
// "/a/{name}/b" cannot both be registered. Literal children are tried before
// the parameter child. Resolve tells a path that does not exist (NotFound)
// apart from one that exists without the requested method
// (MethodNotAllowed, with the methods that are bound).
//
// WebSocket handlers live in the same tree but only match upgrade requests.
package router

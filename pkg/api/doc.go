// Package api exposes the opsdesk HTTP surface.
//
// Every protected route is registered through exactly one rbac gate, which
// resolves the session and checks the route's role and permission
// requirement before the handler runs. Handlers return an httputil.Result;
// the gate renders it as a {"data": ...} or {"error": ...} envelope.
// Ownership narrowing (project membership, client ownership) happens inside
// the handlers, after the gate admitted the caller.
//
// Route groups live in their own *_handlers.go files and register
// themselves on the router built by NewServer.
package api

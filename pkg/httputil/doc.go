// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Envelopes
//
// Every JSON response is either {"data": ...} or {"error": "...", "details": {...}}.
// Handlers return a Result and let WriteResult pick the envelope and status:
//
//	func (s *Server) getProject(ctx context.Context, call *rbac.Call) httputil.Result {
//		project, err := s.projects.Get(ctx, id)
//		if err != nil {
//			return httputil.Fail(err)
//		}
//		return httputil.OK(project)
//	}
//
// Errors are classified with pkg/apierr. Upstream errors are logged and rendered
// as a generic "Internal server error".
//
// # Request Parsing
//
//	var req createProjectRequest
//	if err := httputil.ParseJSON(r, &req); err != nil {
//		return httputil.Fail(err)
//	}
//
//	page, err := httputil.ParsePage(r) // limit 1..200, default 50
//
// Field validation accumulates per-field messages:
//
//	fields := httputil.FieldErrors{}
//	fields.Require("name", req.Name)
//	fields.Email("email", req.Email)
//	if err := fields.Err(); err != nil {
//		return httputil.Fail(err)
//	}
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware,
//		httputil.MaxBytesMiddleware(10*1024*1024),
//	)
package httputil

package httputil

import (
	"net/http"

	"github.com/platinummonkey/opsdesk/pkg/apierr"
	"github.com/platinummonkey/opsdesk/pkg/observability"
)

// Result is what a resource handler returns: either a success payload or a
// classified error. Writer, when set, streams a non-JSON body (downloads, SSE).
type Result struct {
	Status int
	Data   interface{}
	Err    error
	Writer func(w http.ResponseWriter) error
}

// OK returns a 200 result
func OK(data interface{}) Result {
	return Result{Status: http.StatusOK, Data: data}
}

// Created returns a 201 result
func Created(data interface{}) Result {
	return Result{Status: http.StatusCreated, Data: data}
}

// Accepted returns a 202 result
func Accepted(data interface{}) Result {
	return Result{Status: http.StatusAccepted, Data: data}
}

// NoContent returns a 204 result
func NoContent() Result {
	return Result{Status: http.StatusNoContent}
}

// Fail returns an error result
func Fail(err error) Result {
	return Result{Err: err}
}

// Stream returns a result whose body is written by fn
func Stream(fn func(w http.ResponseWriter) error) Result {
	return Result{Status: http.StatusOK, Writer: fn}
}

// IsError reports whether the result carries an error
func (r Result) IsError() bool {
	return r.Err != nil
}

// StatusCode returns the HTTP status the result will be written with
func (r Result) StatusCode() int {
	if r.Err != nil {
		return apierr.Status(r.Err)
	}
	if r.Status == 0 {
		return http.StatusOK
	}
	return r.Status
}

// WriteResult renders res as a JSON envelope. Upstream failures are logged
// with their cause; the caller only sees a generic message.
func WriteResult(w http.ResponseWriter, r *http.Request, res Result) {
	if res.Err != nil {
		if apierr.KindOf(res.Err) == apierr.KindUpstream {
			observability.FromContext(r.Context()).
				WithError(res.Err).
				WithField("path", r.URL.Path).
				Error("Request failed")
		}
		WriteAPIError(w, res.Err)
		return
	}

	if res.Writer != nil {
		if err := res.Writer(w); err != nil {
			observability.FromContext(r.Context()).WithError(err).Warn("Streaming response failed")
		}
		return
	}

	status := res.StatusCode()
	if status == http.StatusNoContent {
		WriteNoContent(w)
		return
	}
	if err := WriteData(w, status, res.Data); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("Failed to encode response")
	}
}

package middleware

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/opsdesk/pkg/observability"
)

// cachedResponse is a captured 2xx GET response
type cachedResponse struct {
	status      int
	contentType string
	body        []byte
}

// ResponseCache memoizes successful GET responses per caller for a short TTL.
// Any successful mutating request purges the whole cache. The cache is
// advisory: a miss only costs a store read. Requests whose credential does
// not verify are passed straight through so the gate can reject them.
type ResponseCache struct {
	entries *lru.LRU[string, *cachedResponse]
	callers *Callers
	metrics *observability.Metrics
}

// NewResponseCache creates a cache holding at most size responses for ttl
func NewResponseCache(size int, ttl time.Duration, callers *Callers, metrics *observability.Metrics) *ResponseCache {
	if size < 1 {
		size = 1
	}
	return &ResponseCache{
		entries: lru.NewLRU[string, *cachedResponse](size, nil, ttl),
		callers: callers,
		metrics: metrics,
	}
}

// Len returns the number of cached responses
func (c *ResponseCache) Len() int {
	return c.entries.Len()
}

// Purge drops every cached response
func (c *ResponseCache) Purge() {
	c.entries.Purge()
}

func (c *ResponseCache) key(r *http.Request) (string, bool) {
	owner, ok := c.callers.owner(r)
	if !ok {
		return "", false
	}
	return owner + " " + r.URL.RequestURI(), true
}

func (c *ResponseCache) hit(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.CacheHitsTotal.WithLabelValues("response").Inc()
	} else {
		c.metrics.CacheMissesTotal.WithLabelValues("response").Inc()
	}
}

// Handler serves cached GET responses and invalidates on writes
func (c *ResponseCache) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			c.serveGet(w, r, next)
		case http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
		default:
			rec := &captureWriter{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if rec.status() >= 200 && rec.status() < 300 {
				c.Purge()
			}
		}
	})
}

func (c *ResponseCache) serveGet(w http.ResponseWriter, r *http.Request, next http.Handler) {
	key, ok := c.key(r)
	if !ok {
		next.ServeHTTP(w, r)
		return
	}
	if cached, ok := c.entries.Get(key); ok {
		c.hit(true)
		if cached.contentType != "" {
			w.Header().Set("Content-Type", cached.contentType)
		}
		w.Header().Set("X-Cache", "HIT")
		w.WriteHeader(cached.status)
		w.Write(cached.body)
		return
	}
	c.hit(false)

	rec := &captureWriter{ResponseWriter: w, buffer: true}
	next.ServeHTTP(rec, r)

	if !rec.cacheable() {
		return
	}
	c.entries.Add(key, &cachedResponse{
		status:      rec.status(),
		contentType: rec.Header().Get("Content-Type"),
		body:        rec.body.Bytes(),
	})
}

// captureWriter passes a response through while recording its status and,
// when buffering, its body
type captureWriter struct {
	http.ResponseWriter
	code        int
	buffer      bool
	streaming   bool
	wroteHeader bool
	body        bytes.Buffer
}

func (cw *captureWriter) WriteHeader(code int) {
	if cw.wroteHeader {
		return
	}
	cw.wroteHeader = true
	cw.code = code
	if strings.HasPrefix(cw.Header().Get("Content-Type"), "text/event-stream") {
		cw.streaming = true
		cw.buffer = false
		cw.body.Reset()
	}
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if !cw.wroteHeader {
		cw.WriteHeader(http.StatusOK)
	}
	if cw.buffer {
		cw.body.Write(b)
	}
	return cw.ResponseWriter.Write(b)
}

// Flush keeps server-sent event streams working through the cache
func (cw *captureWriter) Flush() {
	if f, ok := cw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (cw *captureWriter) status() int {
	if cw.code == 0 {
		return http.StatusOK
	}
	return cw.code
}

func (cw *captureWriter) cacheable() bool {
	if cw.streaming || cw.status() < 200 || cw.status() >= 300 {
		return false
	}
	h := cw.Header()
	if h.Get("Set-Cookie") != "" || strings.Contains(h.Get("Cache-Control"), "no-store") {
		return false
	}
	return true
}

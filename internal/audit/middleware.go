package audit

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
)

const maxCapturedBody = 64 << 10

// ActorFunc extracts the authenticated user id from a request, or "".
type ActorFunc func(*http.Request) string

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	if s.status == 0 {
		s.status = status
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Middleware records an entry for every write request that completed without
// an error status. The entry is written after the response and never delays
// or fails it.
func Middleware(ledger *Ledger, actor ActorFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isWrite(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			body := captureBody(r)
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusBadRequest {
				return
			}

			metadata := map[string]any{"statusCode": status}
			if body != nil {
				metadata["body"] = Redact(body)
			}

			var actorID string
			if actor != nil {
				actorID = actor(r)
			}

			ledger.RecordAsync(r.Context(), Event{
				Action:    r.Method,
				Actor:     actorID,
				IPAddress: clientIP(r),
				UserAgent: r.UserAgent(),
				Resource:  r.URL.RequestURI(),
				Method:    r.Method,
				Metadata:  metadata,
			})
		})
	}
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// captureBody reads a JSON object body without consuming it for the handler.
func captureBody(r *http.Request) map[string]any {
	if r.Body == nil {
		return nil
	}

	buf, err := io.ReadAll(io.LimitReader(r.Body, maxCapturedBody))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(buf), r.Body), r.Body}
	if err != nil || len(buf) == 0 {
		return nil
	}

	var body map[string]any
	if err := json.Unmarshal(buf, &body); err != nil {
		return nil
	}
	return body
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package mcp

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/hostwarden/internal/metrics"
	"github.com/ppiankov/hostwarden/internal/permission"
)

// maxRequestBody caps the JSON-RPC body the guard will inspect.
const maxRequestBody = 4 << 20

// Rejection reasons reported in metrics.
const (
	reasonUnparseable = "unparseable"
	reasonTooLarge    = "too_large"
	reasonNonLocal    = "non_local"
)

// Guard inspects every POSTed JSON-RPC body before it reaches next. A
// body whose operations cannot be determined is rejected with 400; an
// admin operation from a non-loopback address is rejected with 403.
// Other methods carry no client operations and pass through.
func (s *Server) Guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}

		ip := remoteIP(r)
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
		_ = r.Body.Close()
		if err != nil {
			s.reject(w, http.StatusBadRequest, reasonUnparseable, ip, "could not read request body")
			return
		}
		if len(body) > maxRequestBody {
			s.reject(w, http.StatusRequestEntityTooLarge, reasonTooLarge, ip, "request body too large")
			return
		}

		ops, err := permission.RequestedOperations(body)
		if err != nil {
			s.reject(w, http.StatusBadRequest, reasonUnparseable, ip, "could not determine requested operations")
			return
		}
		if d := permission.AuthorizeAdmin(ops, ip); !d.Allowed {
			s.reject(w, http.StatusForbidden, reasonNonLocal, ip, d.Reason)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) reject(w http.ResponseWriter, status int, reason, ip, msg string) {
	metrics.AdminRejections.WithLabelValues(reason).Inc()
	s.logger.Warn("request rejected",
		zap.Int("status", status),
		zap.String("reason", reason),
		zap.String("remote", ip),
	)
	http.Error(w, msg, status)
}

// remoteIP returns the host part of r.RemoteAddr with any zone removed.
// X-Forwarded-For is ignored: the guard trusts only the socket peer.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if i := strings.IndexByte(host, '%'); i >= 0 {
		host = host[:i]
	}
	return host
}

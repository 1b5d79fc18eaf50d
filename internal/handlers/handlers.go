// Package handlers exposes the services as a JSON API. Route wiring and
// permission middleware live in cmd/server; handlers only scope queries to
// the signed in user.
package handlers

import (
	"net"
	"net/netip"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dkortekaas/declair/auth"
	"github.com/dkortekaas/declair/httpx"
	"github.com/dkortekaas/declair/internal/audit"
)

const dateLayout = "2006-01-02"

// currentUser is the signed in user; every route using it sits behind
// auth.RequireAuth.
func currentUser(r *http.Request) uint {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

// pathID reads the {id} wildcard. Anything unparsable is a 404, like an id
// that does not exist.
func pathID(r *http.Request) (uint, error) {
	return pathUint(r, "id")
}

func pathUint(r *http.Request, name string) (uint, error) {
	n, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil || n == 0 {
		return 0, httpx.NotFound()
	}
	return uint(n), nil
}

func decode(r *http.Request, dst any) error {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		return httpx.NewError(httpx.KindValidation, "invalid_json")
	}
	return nil
}

// respond writes payload with status, or the mapped error.
func respond(w http.ResponseWriter, r *http.Request, status int, payload any, err error) {
	if err != nil {
		httpx.WriteError(w, r, apiError(err))
		return
	}
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	httpx.JSON(w, status, payload)
}

func fail(w http.ResponseWriter, r *http.Request, err error) {
	httpx.WriteError(w, r, apiError(err))
}

// queryDate parses an optional YYYY-MM-DD query parameter.
func queryDate(r *http.Request, key string) (time.Time, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, httpx.Invalid(map[string]string{key: "invalid_date"})
	}
	return t, nil
}

func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return n
}

func queryUint(r *http.Request, key string) uint {
	n, err := strconv.ParseUint(r.URL.Query().Get(key), 10, 64)
	if err != nil {
		return 0
	}
	return uint(n)
}

// attachment writes a downloadable file.
func attachment(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ClientIP stores the caller's address for audit entries. X-Forwarded-For
// is only read when the connection comes from one of trusted; the hops are
// walked from the right and the first address outside trusted is the client.
func ClientIP(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r, trusted)
			next.ServeHTTP(w, r.WithContext(audit.WithIP(r.Context(), ip)))
		})
	}
}

func clientIP(r *http.Request, trusted []netip.Prefix) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	remote, err := netip.ParseAddr(host)
	if err != nil || !isTrusted(remote, trusted) {
		return host
	}
	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	client := remote
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		client = hop
		if !isTrusted(hop, trusted) {
			break
		}
	}
	return client.Unmap().String()
}

func isTrusted(addr netip.Addr, trusted []netip.Prefix) bool {
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

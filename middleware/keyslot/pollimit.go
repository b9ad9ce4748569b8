package keyslot

import (
	"net"
	"net/http"
	"strings"
	"time"

	"keyslot-gateway/middleware/keyslot/infra"
)

type KeyFunc func(r *http.Request) string

type PollOptions struct {
	Store              *infra.PollStore
	KeyFn              KeyFunc
	KeyHeader          string
	TrustXForwardedFor bool
	RejectStatus       int
	RetryAfter         time.Duration
	AddPollHeaders     bool
}

func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				parts := strings.Split(xff, ",")
				if len(parts) > 0 {
					ip := strings.TrimSpace(parts[0])
					if ip != "" {
						return ip
					}
				}
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// PollLimitMiddleware limita a frequência de polling por cliente (token
// bucket). Pensado para o endpoint de status, que clientes na fila tendem a
// consultar em loop apertado.
func PollLimitMiddleware(opts PollOptions) func(next http.Handler) http.Handler {
	if opts.Store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.RetryAfter == 0 {
		opts.RetryAfter = 1 * time.Second
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)

			if opts.AddPollHeaders {
				w.Header().Set("X-Poll-Key", key)
				w.Header().Set("X-Poll-RPS", formatFloat(opts.Store.RPS()))
				w.Header().Set("X-Poll-Burst", formatInt(opts.Store.Burst()))
			}

			if !opts.Store.Allow(key) {
				w.Header().Set("Retry-After", formatInt(int(opts.RetryAfter.Seconds())))
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

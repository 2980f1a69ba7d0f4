package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"

	goAudit "github.com/MrEthical07/goAudit"
)

// ErrNoCredentials is returned by an Authenticator when the request carries no
// credentials at all. Guard records it as anonymous access.
var ErrNoCredentials = errors.New("no credentials")

// Recorder is the part of *goAudit.Trail the middleware needs.
type Recorder interface {
	RecordContext(ctx context.Context, typ goAudit.EventType, action string, details map[string]any) error
}

// Authenticator resolves the principal behind a request.
type Authenticator func(r *http.Request) (string, error)

// Origin attaches the caller address and the "rest" layer to the request
// context.
func Origin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(withOrigin(r)))
		})
	}
}

// Guard authenticates each request and records the outcome. Rejected requests
// get 401 and never reach next.
func Guard(rec Recorder, authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := withOrigin(r)
			if rec == nil || authn == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			principal, err := authn(r)
			if err != nil {
				typ := goAudit.EventAuthenticationFailed
				if errors.Is(err, ErrNoCredentials) {
					typ = goAudit.EventAnonymousAccessDenied
				}
				_ = rec.RecordContext(ctx, typ, action(r), requestDetails(r))
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx = goAudit.WithPrincipal(ctx, principal)
			_ = rec.RecordContext(ctx, goAudit.EventAuthenticationSuccess, action(r), requestDetails(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Authorize applies allow to requests that already passed Guard. Denied
// requests get 403.
func Authorize(rec Recorder, allow func(r *http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			granted := allow != nil && allow(r)
			typ := goAudit.EventAccessDenied
			if granted {
				typ = goAudit.EventAccessGranted
			}
			if rec != nil {
				_ = rec.RecordContext(r.Context(), typ, action(r), requestDetails(r))
			}
			if !granted {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func withOrigin(r *http.Request) context.Context {
	ctx := goAudit.WithOriginAddress(r.Context(), clientIP(r))
	return goAudit.WithLayer(ctx, "rest")
}

func action(r *http.Request) string {
	return r.Method + " " + r.URL.Path
}

func requestDetails(r *http.Request) map[string]any {
	details := map[string]any{
		"method": r.Method,
		"path":   r.URL.Path,
	}
	if ua := r.UserAgent(); ua != "" {
		details["user_agent"] = ua
	}
	return details
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

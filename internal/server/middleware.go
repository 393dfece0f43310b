package server

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// hstsMaxAge is thirty days, in seconds.
const hstsMaxAge = "max-age=2592000"

// Middleware wraps the application handler. Outside development it adds
// HSTS to secure responses and redirects plain-HTTP requests to HTTPS.
// Panics are always turned into a 500 response.
func Middleware(cfg *Config, handler http.Handler, log *slog.Logger) http.Handler {
	if !cfg.IsDevelopment() {
		handler = httpsRedirect(cfg, handler)
		handler = hsts(handler)
	}
	return recoverer(handler, log)
}

func recoverer(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Error("Recovered from panic in handler", "path", r.URL.Path, "panic", rec)
				http.Error(w, "An error occurred while processing your request.", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func hsts(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isSecure(r) {
			w.Header().Set("Strict-Transport-Security", hstsMaxAge)
		}
		next.ServeHTTP(w, r)
	})
}

// httpsRedirect only redirects when an HTTPS endpoint is known to exist:
// either this process terminates TLS or a proxy reports the scheme.
func httpsRedirect(cfg *Config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied := r.Header.Get("X-Forwarded-Proto") != ""
		if isSecure(r) || (!cfg.UsesTLS() && !proxied) {
			next.ServeHTTP(w, r)
			return
		}
		http.Redirect(w, r, httpsURL(cfg, r, proxied), http.StatusTemporaryRedirect)
	})
}

func isSecure(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func httpsURL(cfg *Config, r *http.Request, proxied bool) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(r.Host); err == nil {
		host = h
	}

	if !proxied {
		if _, port, err := net.SplitHostPort(cfg.Port); err == nil && port != "" && port != "443" {
			host = net.JoinHostPort(host, port)
		}
	}
	return "https://" + host + r.URL.RequestURI()
}

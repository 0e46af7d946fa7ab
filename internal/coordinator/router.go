package coordinator

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
)

type codeResponse struct {
	Code string `json:"code"`
}

// NewRouter exposes the live channel, the bootstrap read and the health check. A
// non-empty staticDir is served at the root.
func NewRouter(h *Hub, staticDir string) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", h.ServeWs).Methods(http.MethodGet)
	r.HandleFunc("/up", h.handleUp).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(corsMiddleware(h.opts.AllowedOrigins))
	api.HandleFunc("/code", h.handleCode).Methods(http.MethodGet, http.MethodOptions)

	if staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir)))
	}
	return r
}

func (h *Hub) handleCode(w http.ResponseWriter, r *http.Request) {
	code, err := h.Snapshot(r.Context())
	if err != nil {
		glog.Errorf("coordinator: bootstrap read: %v", err)
		http.Error(w, "buffer unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(codeResponse{Code: code}); err != nil {
		glog.Warningf("coordinator: write bootstrap read: %v", err)
	}
}

func (h *Hub) handleUp(w http.ResponseWriter, r *http.Request) {
	n, err := h.Connections(r.Context())
	if err != nil {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("X-Pyshare-Connections", strconv.Itoa(n))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func corsMiddleware(allowed []string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(allowed, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

// checkOrigin accepts requests without an Origin header (non-browser clients), listed
// origins, and same-host origins.
func checkOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || originAllowed(allowed, origin) {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

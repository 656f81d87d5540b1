package realtime

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// TokenVerifier turns a bearer token into a user id
type TokenVerifier interface {
	Verify(token string) (int64, error)
}

// Handler upgrades requests to websocket connections served by h.
// With RequireToken the request must carry a valid token in the "token" query
// parameter or an Authorization bearer header, and "setup" may then only bind
// the token's user.
func (h *Hub) Handler(verifier TokenVerifier) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(h.cfg.AllowedOrigins),
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		var verified int64
		if token := requestToken(r); token != "" && verifier != nil {
			id, err := verifier.Verify(token)
			if err != nil {
				http.Error(w, "Not authorized, token failed.", http.StatusUnauthorized)
				return
			}
			verified = id
		}
		if verified == 0 && h.cfg.RequireToken {
			http.Error(w, "Not authorized, no token provided.", http.StatusUnauthorized)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Infof("Websocket upgrade from %s failed: %v", r.RemoteAddr, err)
			return
		}

		h.Serve(ws, r.RemoteAddr, verified)
	})
}

func requestToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	const prefix = "Bearer "
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}
	return ""
}

// originChecker allows same-origin requests, requests without Origin and
// origins listed in allowed. "*" allows any origin.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[strings.ToLower(o)] = struct{}{}
		}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

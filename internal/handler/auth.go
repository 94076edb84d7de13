package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// requireAuth guards the export endpoints with HTTP basic auth. The
// configured user stands in for the teacher role that may download
// responses; preferences are stored under the authenticated username.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="essayexport"`)
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(h.config.AdminUser)) == 1
		passOK := bcrypt.CompareHashAndPassword([]byte(h.config.AdminPassHash), []byte(pass)) == nil
		if !userOK || !passOK {
			slog.Warn("failed login attempt", "user", user, "remote", r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", `Basic realm="essayexport"`)
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

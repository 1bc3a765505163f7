package httpapi

import (
	"net/http"
	"time"

	"github.com/F6/labctrl-toolbox/internal/engine/auth"
)

// TokenTTL is the lifetime granted to a freshly issued token.
const TokenTTL = 15 * time.Minute

// UserStore looks up a user by username. Implementations persist users via
// internal/engine/config's server-configuration file.
type UserStore interface {
	Lookup(username string) (*auth.User, bool)
}

// TokenHandler implements POST /token (spec.md §6): form-encoded
// username/password in, {access_token, token_type: "bearer"} out.
func TokenHandler(a *auth.Authenticator, users UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			WriteMalformed(w, err)
			return
		}
		username := r.FormValue("username")
		password := r.FormValue("password")

		user, ok := users.Lookup(username)
		if !ok {
			WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
			return
		}
		if err := user.VerifyPassword(password); err != nil {
			WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
			return
		}

		token, err := a.Issue(user, TokenTTL)
		if err != nil {
			WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{
			"access_token": token,
			"token_type":   "bearer",
		})
	}
}

package middleware

import (
	"crypto/subtle"
	"net/http"

	"scalper/pkg/crypto"
)

// BasicAuth - middleware для защиты ops API.
//
// Пустые username/password отключают проверку (локальный запуск).
// password может быть bcrypt хешем (OPS_PASSWORD=$2a$...), иначе
// сравнивается constant-time как есть.
//
// Использование:
//
//	api := router.PathPrefix("/api/v1").Subrouter()
//	api.Use(middleware.BasicAuth(cfg.OpsUsername, cfg.OpsPassword))
func BasicAuth(username, password string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if username == "" || password == "" {
			return next
		}
		hashed := crypto.IsBcryptHash(password)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// preflight без credentials
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			user, pass, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", `Basic realm="ops"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
			var passMatch bool
			if hashed {
				passMatch = crypto.VerifyPassword(pass, password) == nil
			} else {
				passMatch = subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1
			}
			if !userMatch || !passMatch {
				w.Header().Set("WWW-Authenticate", `Basic realm="ops"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

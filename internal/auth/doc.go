// Package auth provides credential verification, sessions and the
// authorization gate for the application.
//
// Users authenticate either locally (login and password) or through an
// external identity provider (see package federation). Both paths end in
// the same place: a server-side session keyed by an opaque token that is
// carried in the "session" cookie.
//
// # Configuration
//
//	AUTH_SESSION_LIFETIME=24h          # Absolute session lifetime
//	AUTH_SECURE_COOKIES=true           # HTTPS-only cookies
//	AUTH_HASH_ALGORITHM=bcrypt         # bcrypt or argon2id
//	AUTH_BCRYPT_COST=12                # bcrypt cost factor
//	AUTH_MIN_PASSWORD_LENGTH=8         # 0 disables the length policy
//	AUTH_MAX_LOGIN_ATTEMPTS=5          # Per IP and login
//
// # Errors
//
// Authentication failures are reported as ErrInvalidCredentials regardless
// of whether the login exists. Storage outages surface as
// ErrStoreUnavailable and are never folded into "not authenticated".
//
// # Usage
//
//	svc := auth.NewService(userRepo, hasher, encryptor, logger)
//	sessions := auth.NewSessionManager(store, userRepo, cfg.Auth)
//	router.Use(auth.NewGate(sessions, logger).Handler())
//
// Extract the user in handlers:
//
//	user := auth.CurrentUser(c) // nil on public routes without a session
package auth

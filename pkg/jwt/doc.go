// Package jwt verifies HS256 bearer tokens and exposes their claims to
// HTTP handlers.
//
// Tokens are issued by the identity service with the user id in the sub
// claim. Service wraps github.com/golang-jwt/jwt/v5, restricting accepted
// algorithms to HS256, requiring exp and optionally checking iss and aud.
//
//	svc, err := jwt.New(jwt.Config{Secret: cfg.Secret})
//	if err != nil {
//		return err
//	}
//	r.Use(jwt.Middleware(svc))
//
//	// in a handler
//	userID, ok := jwt.Subject(r.Context())
//
// Parse errors wrap ErrInvalidToken or ErrExpiredToken.
package jwt

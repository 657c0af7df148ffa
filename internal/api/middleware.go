/**
 * @description
 * This file contains custom middleware for the HTTP router. The operator auth
 * middleware validates the back-office JWT and resolves the operator id for
 * downstream handlers; the privilege decision itself is made by the service
 * from the stored operator record, never from token claims.
 *
 * @dependencies
 * - context, net/http, strings: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: Token parsing and HMAC validation.
 */

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// OperatorIDContextKey is a custom type for the context key to avoid collisions.
type OperatorIDContextKey string

const operatorIDKey OperatorIDContextKey = "operatorID"

// OperatorAuthMiddleware creates a middleware that validates HS256 JWTs issued
// by the back-office auth layer and stores the operator id in the context.
func OperatorAuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSONError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				writeJSONError(w, http.StatusUnauthorized, "Authorization header must be 'Bearer <token>'")
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				writeJSONError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "Invalid token claims")
				return
			}

			// The subject claim carries the operator's internal UUID.
			subject, ok := claims["sub"].(string)
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "Operator id not found in token")
				return
			}
			operatorID, err := uuid.Parse(subject)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "Operator id in token is malformed")
				return
			}

			ctx := context.WithValue(r.Context(), operatorIDKey, operatorID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetOperatorID retrieves the authenticated operator's id from the request context.
func GetOperatorID(ctx context.Context) (uuid.UUID, bool) {
	operatorID, ok := ctx.Value(operatorIDKey).(uuid.UUID)
	return operatorID, ok
}

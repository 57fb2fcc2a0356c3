package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/voxbridge-ai/voxbridge/backend/pkg/utils"
)

type contextKey string

const userIDKey contextKey = "userID"

// TokenVerifier 校验bearer token并返回其对应的用户ID。
type TokenVerifier interface {
	VerifyToken(token string) (uint, error)
}

// RequireAuth 保护租户CRUD接口：缺失或非法token直接拒绝。
func RequireAuth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				utils.RespondError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			userID, err := verifier.VerifyToken(token)
			if err != nil {
				utils.RespondError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserID 读取经过认证的用户ID；未认证时返回0。
func UserID(r *http.Request) uint {
	if id, ok := r.Context().Value(userIDKey).(uint); ok {
		return id
	}
	return 0
}

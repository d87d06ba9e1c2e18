package middleware

import (
	"context"
	"strings"

	"project-canvas/auth"
	"project-canvas/internal/domain"
	"project-canvas/internal/errors"

	"github.com/gin-gonic/gin"
)

type UserProvider interface {
	GetUserByID(ctx context.Context, id uint64) (*domain.User, error)
}

type Auth struct {
	UserService UserProvider
	Tokens      *auth.Tokens
}

// AuthMiddleWare accepts a bearer token, or a token query parameter for
// websocket upgrades where browsers cannot set headers.
func (m *Auth) AuthMiddleWare() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		authHeader := ctx.GetHeader("Authorization")
		var token string
		tokenQuery := ctx.Query("token")

		if authHeader != "" {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		} else if tokenQuery != "" {
			token = tokenQuery
		} else {
			ctx.Error(errors.Unauthorized("Authorization is not found!", nil))
			ctx.Abort()
			return
		}

		userID, err := m.Tokens.Verify(token)
		if err != nil {
			ctx.Error(errors.Unauthorized("Invalid token!", err))
			ctx.Abort()
			return
		}

		user, err := m.UserService.GetUserByID(ctx.Request.Context(), userID)
		if err != nil {
			ctx.Error(errors.Unauthorized("Invalid User ID!", err))
			ctx.Abort()
			return
		}
		if !user.IsActive {
			ctx.Error(errors.Unauthorized("User is not active", nil))
			ctx.Abort()
			return
		}

		ctx.Set("user_id", userID)
		ctx.Set("user", user)
		ctx.Next()
	}
}

// CurrentUser returns the user stored by AuthMiddleWare.
func CurrentUser(ctx *gin.Context) (*domain.User, bool) {
	value, ok := ctx.Get("user")
	if !ok {
		return nil, false
	}
	user, ok := value.(*domain.User)
	return user, ok && user != nil
}

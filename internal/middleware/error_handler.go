package middleware

import (
	"errors"
	"net/http"

	apiError "project-canvas/internal/errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type errorResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next() // Execute the handler first

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		var apiErr *apiError.APIError
		if !errors.As(err, &apiErr) {
			// raw error we didn't wrap
			apiErr = apiError.Internal(err)
		}

		event := log.Info()
		if apiErr.Status >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.Err(apiErr.Internal).
			Int("status", apiErr.Status).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Msg(apiErr.Message)

		// a hijacked websocket has nothing left to write to
		if c.Writer.Written() {
			return
		}
		c.AbortWithStatusJSON(apiErr.Status, errorResponse{
			Success: false,
			Message: apiErr.Message,
			Errors:  apiErr.Fields,
		})
	}
}

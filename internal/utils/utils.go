package utils

import (
	"strconv"

	"project-canvas/internal/errors"

	"github.com/gin-gonic/gin"
)

// ParseIDParam reads a positive numeric path parameter.
func ParseIDParam(c *gin.Context, name string) (uint64, error) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, errors.BadRequest("Invalid "+name, err)
	}
	return id, nil
}

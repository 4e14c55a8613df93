package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"arkived/internal/logger"
	"arkived/pkg/archive"
)

// permission aliases keep route declarations readable.
const (
	archivePermRead   = archive.PermissionRead
	archivePermWrite  = archive.PermissionWrite
	archivePermDelete = archive.PermissionDelete
)

func respondOK(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": message,
		"data":    data,
	})
}

func respondCreated(c *gin.Context, message string, data any) {
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": message,
		"data":    data,
	})
}

// respondError maps the error taxonomy to status codes. Internal errors log
// the detail and return a generic message so raw error text never reaches
// clients.
func respondError(c *gin.Context, err error) {
	switch {
	case archive.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": err.Error(),
		})
	case errors.Is(err, archive.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"message": "not found",
		})
	case errors.Is(err, archive.ErrOrphanedMetadata), errors.Is(err, archive.ErrCorruptSidecar):
		logger.Error("Consistency problem serving %s: %v", c.Request.URL.Path, err)
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"message": "data integrity problem, see server logs",
		})
	default:
		logger.Error("Request to %s failed: %v", c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "internal error",
		})
	}
}

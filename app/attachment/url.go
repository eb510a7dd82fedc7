package attachment

import (
	"errors"
	"net/http"

	"bitwise74/reactions-api/internal"
	"bitwise74/reactions-api/internal/repository"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// URL returns a fresh presigned link to an attachment
func URL(c *gin.Context, d *internal.Deps) {
	requestID := c.GetString("requestID")

	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":    statusFailed,
			"error":     "No attachment ID provided",
			"requestID": requestID,
		})
		return
	}

	a, err := d.Repo.Attachment(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"status":    statusFailed,
				"error":     "Attachment not found",
				"requestID": requestID,
			})
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"status":    statusFailed,
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to fetch attachment from db", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	url, err := d.Store.PresignGet(c.Request.Context(), a.StorageKey, d.PresignTTL)
	if err != nil {
		zap.L().Warn("Failed to presign url, using public url", zap.String("key", a.StorageKey), zap.Error(err))
		url = d.Store.PublicURL(a.StorageKey)
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    statusSuccess,
		"file_path": url,
		"docType":   a.DocType,
		"expiresIn": int(d.PresignTTL.Seconds()),
	})
}

// Package attachment contains the upload endpoints and their helpers
package attachment

import (
	"net/http"
	"path"

	"bitwise74/reactions-api/internal/apperr"
	"bitwise74/reactions-api/internal/ingest"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	statusSuccess = "SUCCESS"
	statusFailed  = "FAILED"
)

func statusOf(k apperr.Kind) int {
	switch k {
	case apperr.InvalidInput,
		apperr.SuspiciousExtensionCombination,
		apperr.UnsupportedType,
		apperr.ConversionError:
		return http.StatusBadRequest
	case apperr.KeyCollision:
		return http.StatusConflict
	case apperr.UploadError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a FAILED response. Errors without a kind are logged
// and reported as internal errors.
func fail(c *gin.Context, err error) {
	requestID := c.GetString("requestID")
	kind := apperr.KindOf(err)
	code := statusOf(kind)

	if code >= http.StatusInternalServerError {
		zap.L().Error("Failed to ingest file",
			zap.String("requestID", requestID),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}

	c.AbortWithStatusJSON(code, gin.H{
		"status":    statusFailed,
		"kind":      kind,
		"error":     apperr.MessageOf(err),
		"requestID": requestID,
	})
}

func succeed(c *gin.Context, res *ingest.Result) {
	a := res.Attachment

	c.JSON(http.StatusOK, gin.H{
		"status":    statusSuccess,
		"message":   "File uploaded successfully",
		"id":        a.ID,
		"entryID":   res.Entry.ID,
		"file_path": res.URL,
		"file_type": path.Ext(a.StorageKey),
		"file_name": path.Base(a.StorageKey),
		"docType":   a.DocType,
		"timeStamp": res.TimeStamp,
		"waveform":  res.Waveform,
	})
}

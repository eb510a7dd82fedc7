// Package conversation manages who receives the attachments posted into a
// conversation.
package conversation

import (
	"errors"
	"net/http"

	"bitwise74/reactions-api/internal"
	"bitwise74/reactions-api/internal/linker"
	"bitwise74/reactions-api/internal/model"
	"bitwise74/reactions-api/internal/repository"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// target reads the conversation from the path. It writes the error response
// itself and returns false when the path is unusable.
func target(c *gin.Context) (string, string, bool) {
	kind, ref := c.Param("kind"), c.Param("ref")

	if kind != model.ConversationReaction && kind != model.ConversationChat {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":    "FAILED",
			"error":     "Unknown conversation kind",
			"requestID": c.GetString("requestID"),
		})
		return "", "", false
	}

	if ref == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":    "FAILED",
			"error":     "No conversation provided",
			"requestID": c.GetString("requestID"),
		})
		return "", "", false
	}

	return kind, linker.ConversationID(kind, ref), true
}

// Join adds the caller to the members of a conversation
func Join(c *gin.Context, d *internal.Deps) {
	requestID := c.GetString("requestID")
	userID := c.GetString("userID")

	kind, convID, ok := target(c)
	if !ok {
		return
	}

	err := d.Repo.Join(c.Request.Context(), convID, kind, userID)
	if errors.Is(err, repository.ErrConversationKind) {
		c.JSON(http.StatusConflict, gin.H{
			"status":    "FAILED",
			"error":     "Conversation exists with a different kind",
			"requestID": requestID,
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":    "FAILED",
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to join conversation", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         "SUCCESS",
		"conversationID": convID,
	})
}

// Leave removes the caller from the members of a conversation
func Leave(c *gin.Context, d *internal.Deps) {
	requestID := c.GetString("requestID")

	_, convID, ok := target(c)
	if !ok {
		return
	}

	if err := d.Repo.Leave(c.Request.Context(), convID, c.GetString("userID")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":    "FAILED",
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to leave conversation", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.Status(http.StatusNoContent)
}

// Members lists the user ids of a conversation
func Members(c *gin.Context, d *internal.Deps) {
	requestID := c.GetString("requestID")

	_, convID, ok := target(c)
	if !ok {
		return
	}

	ids, err := d.Repo.Participants(c.Request.Context(), convID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":    "FAILED",
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to list conversation members", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	if ids == nil {
		ids = []string{}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "SUCCESS",
		"members": ids,
	})
}

// Package middleware contains any custom middleware used in the app
package middleware

import (
	"regexp"

	"bitwise74/reactions-api/pkg/util"

	"github.com/gin-gonic/gin"
)

const RequestIDHeader = "X-Request-ID"

var validRequestID = regexp.MustCompile(`^[A-Za-z0-9-]{8,64}$`)

// NewRequestIDMiddleware sets requestID for every request. A well formed id
// sent by a proxy is kept, otherwise a new one is generated. The id is echoed
// back in the X-Request-ID header.
func NewRequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if !validRequestID.MatchString(id) {
			id = util.RandStr(10)
		}

		c.Set("requestID", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

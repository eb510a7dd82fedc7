package app

import (
	"context"
	"time"

	"bitwise74/reactions-api/app/attachment"
	"bitwise74/reactions-api/app/conversation"
	"bitwise74/reactions-api/app/root"
	"bitwise74/reactions-api/internal"
	"bitwise74/reactions-api/pkg/middleware"

	cache "github.com/chenyahui/gin-cache"
	"github.com/chenyahui/gin-cache/persist"
	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	v "github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var store = persist.NewMemoryStore(time.Minute)

// NewRouter registers every route. Background helpers of the router stop
// when ctx is cancelled.
func NewRouter(ctx context.Context, d *internal.Deps) *gin.Engine {
	router := gin.New()

	router.Use(
		cors.New(cors.Config{
			AllowOrigins:     v.GetStringSlice("host.cors"),
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "HEAD", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
		ginzap.RecoveryWithZap(zap.L(), true),
		middleware.NewRequestIDMiddleware(),
		ginzap.GinzapWithConfig(zap.L(), &ginzap.Config{
			TimeFormat: "15:04:05.000",
			UTC:        true,
			Skipper: func(c *gin.Context) bool {
				return c.Request.Method == "HEAD" || c.FullPath() == "/metrics"
			},
			Context: func(c *gin.Context) []zapcore.Field {
				fields := []zapcore.Field{}

				if id := c.GetString("requestID"); id != "" {
					fields = append(fields, zap.String("request_id", id))
				}

				if id := c.GetString("userID"); id != "" {
					fields = append(fields, zap.String("userID", id))
				}

				return fields
			},
		}),
	)

	router.HandleMethodNotAllowed = true
	router.RedirectFixedPath = true
	router.MaxMultipartMemory = 5 << 20

	rateLimit := v.GetInt("security.rate_limit")
	jwt := middleware.NewJWTMiddleware([]byte(v.GetString("jwt.secret")))
	rateLimiter := middleware.RateLimiterMiddleware(ctx, middleware.RateLimiterConfig{
		RequestsPerSecond: rateLimit,
		Burst:             rateLimit * 2,
	})
	bodyLimit := middleware.BodySizeLimiter(d.MaxSize + 1<<20)

	// GET /metrics			-> Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	m := router.Group("/api", rateLimiter)
	{
		// HEAD /api/heartbeat 		-> Used to check if the server is alive
		m.HEAD("/heartbeat", func(c *gin.Context) { root.Heartbeat(c, d) })

		// POST /api/reactions		-> Stores a voice reaction to a daily question
		m.POST("/reactions", jwt, bodyLimit, func(c *gin.Context) { attachment.Reaction(c, d) })
	}

	a := m.Group("/attachments", jwt)
	{
		// POST /api/attachments	-> Stores a file posted into a chat
		a.POST("", bodyLimit, func(c *gin.Context) { attachment.Chat(c, d) })

		// GET /api/attachments/:id/url	-> Returns a fresh presigned url for an attachment
		a.GET("/:id/url", cacheFor(30), func(c *gin.Context) { attachment.URL(c, d) })
	}

	cv := m.Group("/conversations/:kind/:ref/members", jwt)
	{
		// GET /api/conversations/:kind/:ref/members		-> Lists who gets notified about new attachments
		cv.GET("", func(c *gin.Context) { conversation.Members(c, d) })

		// PUT /api/conversations/:kind/:ref/members		-> Joins the caller to the conversation
		cv.PUT("", func(c *gin.Context) { conversation.Join(c, d) })

		// DELETE /api/conversations/:kind/:ref/members	-> Removes the caller from the conversation
		cv.DELETE("", func(c *gin.Context) { conversation.Leave(c, d) })
	}

	return router
}

func cacheFor(sec int) gin.HandlerFunc {
	return cache.CacheByRequestURI(store, time.Second*time.Duration(sec))
}

package router

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "github.com/zeroxmods/certmint/docs"
	"github.com/zeroxmods/certmint/internal/api/handler"
	"github.com/zeroxmods/certmint/internal/api/middleware"
	"github.com/zeroxmods/certmint/internal/ws"
	"github.com/zeroxmods/certmint/pkg/monitor"
)

type Config struct {
	ServiceName string
	JWTSecret   string
	JWTIssuer   string
	RateLimiter *middleware.RateLimiter
	Swagger     bool
}

// Setup 注册全部路由
func Setup(h *handler.Handler, live *ws.Handler, cfg Config) *gin.Engine {
	r := gin.New()
	r.Use(monitor.Recovery())
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(middleware.RequestLogger())

	r.GET("/health", h.Health)
	if cfg.Swagger {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	admin := middleware.AdminAuth(cfg.JWTSecret, cfg.JWTIssuer)
	public := []gin.HandlerFunc{}
	if cfg.RateLimiter != nil {
		public = append(public, cfg.RateLimiter.Middleware())
	}

	payments := r.Group("/payments")
	{
		// webhook 不限流，也不压缩，Paystack 需要原样的 200
		payments.POST("/webhook", h.Webhook)
		payments.POST("/checkout", append(public, h.Checkout)...)
		payments.POST("/verify/:reference", append(public, h.VerifyPayment)...)
		payments.POST("/test/complete/:reference", admin, h.CompleteTestPayment)
	}

	ownership := r.Group("/ownership")
	{
		ownership.GET("/order/:orderId", append(public, gzip.Gzip(gzip.DefaultCompression), h.GetCertificate)...)
		if live != nil {
			ownership.GET("/order/:orderId/ws", live.Serve)
		}

		adm := ownership.Group("/admin", admin)
		adm.Use(gzip.Gzip(gzip.DefaultCompression))
		adm.POST("/re-mint", h.ReMint)
		adm.GET("/failed-mints", h.ListFailedMints)
		adm.POST("/unfreeze", h.Unfreeze)
	}
	return r
}

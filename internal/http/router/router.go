package router

import (
	"buddypark.app/relay/internal/http/handler"
	"buddypark.app/relay/internal/http/middleware"
	"buddypark.app/relay/internal/service"
	"github.com/gin-gonic/gin"
)

type RouterConfig struct {
	APIKey string
}

func SetupRoutes(router *gin.Engine, turns service.TurnService, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		SchemaRouter(v1.Group("/schema"), handler.NewSchemaHandler())

		turnHandler := handler.NewTurnHandler(turns)
		TurnRouter(v1.Group("/turns", middleware.RequireBearer(cfg.APIKey)), turnHandler)
	}
}

package router

import (
	"buddypark.app/relay/internal/http/handler"
	"github.com/gin-gonic/gin"
)

func TurnRouter(rg *gin.RouterGroup, h *handler.TurnHandler) {
	rg.POST("", h.Handle)
}

func SchemaRouter(rg *gin.RouterGroup, h *handler.SchemaHandler) {
	rg.GET("/notification", h.Notification)
}

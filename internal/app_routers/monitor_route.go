package approuters

import (
	"github.com/gin-gonic/gin"

	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/auth"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/configuration"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/handler"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/hub"
)

// MonitorRouters sets up monitoring API routes
func MonitorRouters(router *gin.Engine, container *configuration.Container) {
	monitorService := hub.NewMonitorService(container.Hub)
	monitorHandler := handler.NewMonitorHandler(monitorService)

	monitorGroup := router.Group("/monitor")
	monitorGroup.Use(auth.Middleware(container.TokenManager), auth.RequireElevated())
	{
		monitorGroup.GET("/stats", monitorHandler.GetHubStats)
	}
}

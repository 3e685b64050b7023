package handlers

import "github.com/labstack/echo/v4"

// RegisterRoutes mounts the sync, tariff and destination endpoints
func RegisterRoutes(e *echo.Echo, sync *SyncHandler, tariffs *TariffHandler, destinations *DestinationHandler) {
	e.GET("/metrics", sync.Metrics)

	api := e.Group("/api/v1")
	api.GET("/sync/status", sync.Status)
	api.POST("/sync/run", sync.Run)
	api.GET("/tariffs/latest", tariffs.Latest)
	api.GET("/destinations", destinations.List)
	api.POST("/destinations", destinations.Register)
}

package http

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/mazi76erX2/vault-sub000/internal/transport/http/handler"
	"github.com/mazi76erX2/vault-sub000/internal/transport/http/middleware"
)

// NewRouter mounts the query API.
func NewRouter(mode string, answerer handler.Answerer, datastore handler.Pinger, logger *slog.Logger) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}
	router := gin.New()
	router.Use(middleware.RequestID(), middleware.Logger(logger.With("component", "http")), gin.Recovery())

	healthHandler := handler.NewHealthHandler(datastore)
	router.GET("/healthz", healthHandler.Check)

	queryHandler := handler.NewQueryHandler(answerer)
	v1 := router.Group("/api/v1")
	v1.POST("/query", queryHandler.Query)
	v1.POST("/search", queryHandler.Search)

	return router
}

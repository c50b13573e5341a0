package api

import (
	"github.com/gin-gonic/gin"
)

// SetupRouter wires the HTTP surface: the project-scoped session API,
// the in-container readiness callback, and signed artifact downloads.
func SetupRouter(handler *SessionHandler) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(CORSMiddleware())
	router.Use(RequestIDMiddleware())

	router.GET("/health", handler.Health)

	v1 := router.Group("/api/v1")
	{
		sessions := v1.Group("/sessions")
		sessions.Use(ProjectScopeMiddleware())
		{
			sessions.POST("", handler.CreateSession)
			sessions.GET("", handler.ListSessions)
			sessions.GET("/:id", handler.GetSession)
			sessions.DELETE("/:id", handler.TerminateSession)
			sessions.GET("/:id/recordings", handler.ListRecordings)
		}
	}

	internal := router.Group("/internal")
	{
		internal.POST("/containers/:handle/ready", handler.ContainerReady)
	}

	router.GET("/artifacts/:id/*key", handler.DownloadArtifact)

	return router
}

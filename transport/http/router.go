package http

import (
	"github.com/gin-gonic/gin"

	"github.com/askmygarmin/backend/service"
)

// SetupRouter sets up the Gin router.
func SetupRouter(auth *service.AuthService, ask *service.AskService, memories *service.MemoryService) *gin.Engine {
	router := gin.Default()

	handlers := NewHandlers(auth, ask, memories)

	authGroup := router.Group("/api/auth")
	{
		authGroup.POST("/login", handlers.Login)
		authGroup.POST("/mfa", handlers.SubmitMFA)
		authGroup.GET("/status", handlers.Status)
		authGroup.POST("/logout", handlers.Logout)
	}

	api := router.Group("/api")
	api.Use(AuthMiddleware(auth))
	{
		api.POST("/ask", handlers.Ask)
		api.GET("/memories", handlers.ListMemories)
		api.POST("/memories", handlers.CreateMemory)
		api.PUT("/memories/:id", handlers.UpdateMemory)
		api.DELETE("/memories/:id", handlers.DeleteMemory)
	}

	return router
}

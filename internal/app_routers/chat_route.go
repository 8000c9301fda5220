package approuters

import (
	"github.com/gin-gonic/gin"

	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/auth"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/configuration"
)

func ChatRouters(router *gin.Engine, container *configuration.Container) {
	chats := router.Group("/chats")
	chats.Use(auth.Middleware(container.TokenManager))
	{
		chats.GET("", container.ChatHandler.ListChats)
		chats.POST("", container.ChatHandler.CreateChat)

		// elevated-role global listing; registered before /:id so the
		// literal segment wins
		admin := chats.Group("/admin")
		admin.Use(auth.RequireElevated())
		{
			admin.GET("/all", container.ChatHandler.ListAllChats)
		}

		chats.GET("/:id", container.ChatHandler.GetChat)
		chats.PUT("/:id", container.ChatHandler.UpdateChat)
		chats.POST("/:id/participants", container.ChatHandler.AddParticipant)
		chats.DELETE("/:id/participants/:userId", container.ChatHandler.RemoveParticipant)
		chats.PUT("/:id/read", container.ChatHandler.MarkRead)
		chats.PUT("/:id/archive", container.ChatHandler.ArchiveChat)

		chats.GET("/:id/messages", container.ChatHandler.GetMessages)
		chats.POST("/:id/messages", container.ChatHandler.SendMessage)
		chats.PUT("/:id/messages/:messageId", container.ChatHandler.EditMessage)
		chats.DELETE("/:id/messages/:messageId", container.ChatHandler.DeleteMessage)
		chats.POST("/:id/messages/:messageId/reactions", container.ChatHandler.AddReaction)
	}
}

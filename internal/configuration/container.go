package configuration

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/auth"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/db"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/handler"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/hub"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/model"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/repo"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/service"
)

type Container struct {
	ChatHandler  handler.ChatHandler
	TokenManager *auth.TokenManager
	Hub          *hub.Hub
	Config       Config
	Logger       *zap.Logger

	// private - for cleanup
	mongoClient *mongo.Database
}

func BuildContainer(configPath string) (*Container, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	con, err := db.OpenConnection(config.ChatDatabase.Uri, config.ChatDatabase.Database)
	if err != nil {
		return nil, err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	conversationStore := db.NewRepository[model.Conversation](con, config.ChatDatabase.ConversationsCollection)
	messageStore := db.NewRepository[model.Message](con, config.ChatDatabase.MessagesCollection)

	conversationRepo := repo.NewConversationRepository(con, conversationStore, logger)
	messageRepo := repo.NewMessageRepository(con, messageStore, logger)
	userDirectory, eventDirectory := repo.NewDirectory(con, config.ChatDatabase.UsersCollection, config.ChatDatabase.EventsCollection)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := conversationRepo.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure conversation indexes: %w", err)
	}
	if err := messageRepo.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure message indexes: %w", err)
	}

	tokenManager := auth.NewTokenManager(config.Auth.JwtSecret, time.Duration(config.Auth.TokenTTLHours)*time.Hour)

	chatService := service.NewChatService(conversationRepo, userDirectory, eventDirectory, nil, logger)
	messageService := service.NewMessageService(conversationRepo, messageRepo, chatService, nil, logger)

	// The hub dispatches socket events into the services, and the services
	// broadcast through the hub; wire the back-reference after construction.
	chatHub := hub.NewHub(chatService, messageService, tokenManager, logger)
	chatService.SetBroadcaster(chatHub)
	messageService.SetBroadcaster(chatHub)

	chatHandler := handler.NewChatHandler(chatService, messageService, logger)

	return &Container{
		ChatHandler:  chatHandler,
		TokenManager: tokenManager,
		Hub:          chatHub,
		Config:       *config,
		Logger:       logger,
		mongoClient:  con,
	}, nil
}

// Close gracefully shuts down all connections
func (c *Container) Close() error {
	// Stop the hub first (closes all WebSocket connections)
	if c.Hub != nil {
		c.Hub.Stop()
	}

	if c.Logger != nil {
		_ = c.Logger.Sync()
	}

	// Close MongoDB connection pool
	if c.mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.mongoClient.Client().Disconnect(ctx); err != nil {
			return fmt.Errorf("failed to close MongoDB connection: %w", err)
		}
	}

	return nil
}

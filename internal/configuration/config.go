package configuration

import (
	"encoding/json"
	"os"

	"github.com/joho/godotenv"
)

type MongoConfig struct {
	Uri                     string `json:"uri"`
	Database                string `json:"database"`
	ConversationsCollection string `json:"conversationsCollection"`
	MessagesCollection      string `json:"messagesCollection"`
	UsersCollection         string `json:"usersCollection"`
	EventsCollection        string `json:"eventsCollection"`
	SocketRoute             string `json:"socketRoute"`
}

type ServerConfig struct {
	AppPort    int `json:"app_port"`
	SocketPort int `json:"socket_port"`
}

type AuthConfig struct {
	JwtSecret     string `json:"jwt_secret"`
	TokenTTLHours int    `json:"token_ttl_hours"`
}

type Config struct {
	ChatDatabase MongoConfig  `json:"mongo"`
	Server       ServerConfig `json:"server"`
	Auth         AuthConfig   `json:"auth"`
}

// LoadConfig reads the JSON config file. A .env file, when present, supplies
// the config path (CONFIG_PATH) and overrides the JWT secret (JWT_SECRET) so
// the secret stays out of the checked-in config.
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	if env := os.Getenv("CONFIG_PATH"); env != "" {
		configPath = env
	}

	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Auth.JwtSecret = secret
	}
	if uri := os.Getenv("MONGO_URI"); uri != "" {
		config.ChatDatabase.Uri = uri
	}

	applyDefaults(&config)
	return &config, nil
}

func applyDefaults(config *Config) {
	if config.ChatDatabase.ConversationsCollection == "" {
		config.ChatDatabase.ConversationsCollection = "conversations"
	}
	if config.ChatDatabase.MessagesCollection == "" {
		config.ChatDatabase.MessagesCollection = "messages"
	}
	if config.ChatDatabase.UsersCollection == "" {
		config.ChatDatabase.UsersCollection = "users"
	}
	if config.ChatDatabase.EventsCollection == "" {
		config.ChatDatabase.EventsCollection = "events"
	}
	if config.ChatDatabase.SocketRoute == "" {
		config.ChatDatabase.SocketRoute = "ws"
	}
	if config.Server.AppPort == 0 {
		config.Server.AppPort = 8080
	}
	if config.Server.SocketPort == 0 {
		config.Server.SocketPort = 8081
	}
	if config.Auth.TokenTTLHours == 0 {
		config.Auth.TokenTTLHours = 24
	}
}

package database

import (
	"context"
	"fmt"
	"time"

	"slotkeeper/config"
	"slotkeeper/database/repository"
	mongoRepo "slotkeeper/database/repository/mongodb"
	sqliteRepo "slotkeeper/database/repository/sqlite"
	"slotkeeper/utils"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoClient is the global MongoDB client instance when the mongo driver is selected.
var MongoClient *mongo.Client

// InitDB initializes the MongoDB connection.
func InitDB(ctx context.Context, cfg config.Config) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(cfg.DatabaseURL)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	MongoClient = client
	utils.GetLogger().Info("Connected to MongoDB", zap.String("database", cfg.DatabaseName))
	return client, nil
}

// OpenStore opens the backend named by STORE_DRIVER.
func OpenStore(ctx context.Context, cfg config.Config) (repository.Store, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		s, err := sqliteRepo.Open(cfg.SQLitePath, cfg.StoreTimeout)
		if err != nil {
			return nil, err
		}
		utils.GetLogger().Info("Opened SQLite store", zap.String("path", cfg.SQLitePath))
		return s, nil
	case "mongo":
		client, err := InitDB(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s, err := mongoRepo.NewMongoStore(client, cfg.DatabaseName, cfg.StoreTimeout)
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

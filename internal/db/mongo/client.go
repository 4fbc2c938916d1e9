// Package mongo provides MongoDB database connectivity and repositories.
package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/peppy/osu-server-spectator/internal/config"
	"github.com/peppy/osu-server-spectator/internal/utils"
)

// Collection names used by the server.
const (
	CollectionRooms         = "multiplayer_rooms"
	CollectionPlaylistItems = "multiplayer_playlist_items"
	CollectionBeatmaps      = "beatmaps"
	CollectionScoreTokens   = "solo_score_tokens"
	CollectionBeatmapQueue  = "beatmapset_processing_queue"
)

// Client wraps the MongoDB client with app-specific functionality
type Client struct {
	client   *mongo.Client
	database string
	logger   *utils.Logger
}

// NewClient creates a new MongoDB client
func NewClient(cfg *config.Config, logger *utils.Logger) (*Client, error) {
	// Create MongoDB client options
	clientOptions := options.Client().
		ApplyURI(cfg.Database.MongoDB.URI).
		SetMaxPoolSize(cfg.Database.MongoDB.MaxPoolSize).
		SetMinPoolSize(cfg.Database.MongoDB.MinPoolSize).
		SetMaxConnIdleTime(cfg.Database.MongoDB.MaxIdleTime)

	// Create context with timeout for connection
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.MongoDB.Timeout)
	defer cancel()

	// Connect to MongoDB
	client, err := mongo.Connect(clientOptions)
	if err != nil {
		logger.Error("Failed to connect to MongoDB", err)
		return nil, err
	}

	// Ping the database to verify connection
	err = client.Ping(ctx, readpref.Primary())
	if err != nil {
		logger.Error("Failed to ping MongoDB", err)
		return nil, err
	}

	logger.Info("Connected to MongoDB", "uri", cfg.Database.MongoDB.URI, "database", cfg.Database.MongoDB.Database)

	return &Client{
		client:   client,
		database: cfg.Database.MongoDB.Database,
		logger:   logger,
	}, nil
}

// Database returns the MongoDB database
func (c *Client) Database() *mongo.Database {
	return c.client.Database(c.database)
}

// Collection returns a MongoDB collection
func (c *Client) Collection(name string) *mongo.Collection {
	return c.Database().Collection(name)
}

// Client returns the underlying MongoDB client
func (c *Client) Client() *mongo.Client {
	return c.client
}

// Ping verifies the connection is still alive. Used by health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

// Disconnect closes the MongoDB connection
func (c *Client) Disconnect(ctx context.Context) error {
	err := c.client.Disconnect(ctx)
	if err != nil {
		c.logger.Error("Failed to disconnect from MongoDB", err)
		return err
	}
	c.logger.Info("Disconnected from MongoDB")
	return nil
}

// EnsureIndexes ensures that all required indexes are created
func (c *Client) EnsureIndexes(ctx context.Context) error {
	c.logger.Info("Ensuring MongoDB indexes")

	// Playlist items are looked up per room in ID order.
	_, err := c.Collection(CollectionPlaylistItems).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "roomId", Value: 1}, {Key: "id", Value: 1}},
	})
	if err != nil {
		return err
	}

	// Score tokens are resolved by token ID, which is the _id, but scores
	// are also queried per user for abuse investigation.
	_, err = c.Collection(CollectionScoreTokens).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "userId", Value: 1}},
	})
	if err != nil {
		return err
	}

	// The metadata poll scans the processing queue by queue ID.
	_, err = c.Collection(CollectionBeatmapQueue).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "queueId", Value: 1}},
	})
	if err != nil {
		return err
	}

	c.logger.Info("MongoDB indexes created successfully")
	return nil
}

// WithContext creates a context with timeout
func (c *Client) WithContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

// DatabaseName returns the name of the database
func (c *Client) DatabaseName() string {
	return c.database
}

// Logger returns the logger used by the client
func (c *Client) Logger() *utils.Logger {
	return c.logger
}

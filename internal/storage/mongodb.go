// mongodb.go - MongoDB connection and the document index backend

package storage

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/bosocmputer/crop_assistant_gemini/configs"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	indexCollection = "document_indexes"
	filesCollection = "indexed_files"

	mongoOpTimeout = 10 * time.Second
)

var mongoClient *mongo.Client
var mongoDB *mongo.Database

// InitMongoDB initializes the MongoDB client. An unreachable server is only
// logged: the document index is created lazily and retried on later requests.
func InitMongoDB() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	clientOptions := options.Client().ApplyURI(configs.MONGO_URI)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		log.Printf("⚠️  MongoDB ping failed, document index will be retried lazily: %v", err)
	} else {
		log.Println("✅ Connected to MongoDB successfully!")
	}

	mongoClient = client
	mongoDB = client.Database(configs.MONGO_DB_NAME)
	return nil
}

// GetMongoDB returns the MongoDB database instance
func GetMongoDB() *mongo.Database {
	return mongoDB
}

// CloseMongoDB closes MongoDB connection
func CloseMongoDB() {
	if mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
		defer cancel()
		mongoClient.Disconnect(ctx)
		log.Println("MongoDB connection closed")
	}
}

// MongoIndexBackend stores document index records in MongoDB
type MongoIndexBackend struct {
	db *mongo.Database
}

// NewMongoIndexBackend creates a backend over db
func NewMongoIndexBackend(db *mongo.Database) *MongoIndexBackend {
	return &MongoIndexBackend{db: db}
}

// CreateIndex inserts a new document index record
func (b *MongoIndexBackend) CreateIndex(ctx context.Context, displayName string) (*Handle, error) {
	if b.db == nil {
		return nil, fmt.Errorf("MongoDB is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	handle := &Handle{
		Name:        "documentIndexes/" + uuid.New().String(),
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}

	if _, err := b.db.Collection(indexCollection).InsertOne(ctx, handle); err != nil {
		return nil, fmt.Errorf("failed to insert document index: %w", err)
	}

	return handle, nil
}

// AddFile registers file under handle, replacing a previous file with the same title
func (b *MongoIndexBackend) AddFile(ctx context.Context, handle *Handle, file IndexedFile) error {
	if b.db == nil {
		return fmt.Errorf("MongoDB is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	file.IndexName = handle.Name
	filter := bson.M{"index_name": handle.Name, "title": file.Title}

	_, err := b.db.Collection(filesCollection).ReplaceOne(ctx, filter, file, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to register %s in %s: %w", file.Title, handle.Name, err)
	}
	return nil
}

// ListFiles returns the files registered under handle, oldest first
func (b *MongoIndexBackend) ListFiles(ctx context.Context, handle *Handle) ([]IndexedFile, error) {
	if b.db == nil {
		return nil, fmt.Errorf("MongoDB is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	findOptions := options.Find().SetSort(bson.D{{Key: "uploaded_at", Value: 1}})
	cursor, err := b.db.Collection(filesCollection).Find(ctx, bson.M{"index_name": handle.Name}, findOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to query indexed files: %w", err)
	}
	defer cursor.Close(ctx)

	files := []IndexedFile{}
	if err := cursor.All(ctx, &files); err != nil {
		return nil, fmt.Errorf("failed to decode indexed files: %w", err)
	}
	return files, nil
}

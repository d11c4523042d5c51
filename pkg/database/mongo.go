// Package database initializes the shared datastore clients.
package database

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"cfdb/pkg/log"
)

// Mongo is the global document store handle.
var Mongo *mongo.Database

var mongoClient *mongo.Client

// InitMongo connects to the document store and selects the database.
func InitMongo(uri, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		log.Fatal("failed to connect to mongodb", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		log.Fatal("failed to ping mongodb", err)
	}

	mongoClient = client
	Mongo = client.Database(name)
	log.Info("MongoDB connected successfully")
}

// CloseMongo releases the document store connection.
func CloseMongo(ctx context.Context) {
	if mongoClient != nil {
		if err := mongoClient.Disconnect(ctx); err != nil {
			log.Error("failed to disconnect mongodb", err)
		}
	}
}

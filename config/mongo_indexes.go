package config

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	mongorepo "github.com/opbuddy121/fibre-joint-app/internal/repositories/mongo"
)

func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	if db == nil {
		return errors.New("mongo database is nil; call InitMongo() first")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := db.Collection(mongorepo.SessionsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		// owner's list query, newest first
		{
			Keys:    bson.D{{Key: "engineerId", Value: 1}, {Key: "startTime", Value: -1}},
			Options: options.Index().SetName("by_engineer_start"),
		},
		// active-session lookups per engineer
		{
			Keys:    bson.D{{Key: "engineerId", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index().SetName("by_engineer_status"),
		},
	})
	return err
}

package kg

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// mongoRunDoc is the BSON document schema for run storage.
type mongoRunDoc struct {
	ID        string      `json:"_id" bson:"_id"`
	Version   string      `json:"version" bson:"version"`
	Result    BuildResult `json:"result" bson:"result"`
	UpdatedAt time.Time   `json:"updated_at" bson:"updated_at"`
}

// MongoRunLedger implements RunLedger backed by a MongoDB collection.
// The caller owns the mongo.Client lifecycle.
type MongoRunLedger struct {
	Collection *mongo.Collection
}

// NewMongoRunLedger creates a MongoRunLedger from a *mongo.Collection.
func NewMongoRunLedger(collection *mongo.Collection) *MongoRunLedger {
	return &MongoRunLedger{Collection: collection}
}

func (l *MongoRunLedger) Get(ctx context.Context, runID string) (*RunDocument, error) {
	var doc mongoRunDoc
	err := l.Collection.FindOne(ctx, bson.M{"_id": runID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return &RunDocument{
		Result:  doc.Result,
		Version: doc.Version,
	}, nil
}

func (l *MongoRunLedger) HeadVersion(ctx context.Context, runID string) (string, error) {
	var doc struct {
		Version string `bson:"version" json:"version"`
	}
	err := l.Collection.FindOne(ctx, bson.M{"_id": runID},
		options.FindOne().SetProjection(bson.M{"version": 1}),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", nil
		}
		return "", err
	}
	return doc.Version, nil
}

func (l *MongoRunLedger) UpsertIfMatch(ctx context.Context, runID string, result BuildResult, expectedVersion string) (string, error) {
	newVersion := uuid.New().String()
	doc := mongoRunDoc{
		ID:        runID,
		Version:   newVersion,
		Result:    result,
		UpdatedAt: time.Now().UTC(),
	}

	if expectedVersion == "" {
		// Insert-only: reject if a document already exists for this run.
		_, err := l.Collection.InsertOne(ctx, doc)
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return "", ErrArtifactVersionMismatch
			}
			return "", err
		}
		return newVersion, nil
	}

	// CAS: only replace if current version matches.
	res, err := l.Collection.ReplaceOne(ctx,
		bson.M{"_id": runID, "version": expectedVersion},
		doc,
	)
	if err != nil {
		return "", err
	}
	if res.MatchedCount == 0 {
		return "", ErrArtifactVersionMismatch
	}
	return newVersion, nil
}

func (l *MongoRunLedger) Delete(ctx context.Context, runID string) error {
	_, err := l.Collection.DeleteOne(ctx, bson.M{"_id": runID})
	return err
}

// Package repository defines the data access interfaces over the document
// store and the task status store.
package repository

import (
	"context"
	"errors"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"cfdb/internal/apperr"
	"cfdb/internal/model"
)

// FileRepository reads the query-side collections.
type FileRepository interface {
	// Aggregate runs a pipeline against the file collection.
	Aggregate(ctx context.Context, pipeline []bson.D) ([]bson.M, error)
	// FindFileByKey looks a file up by its composite primary key.
	FindFileByKey(ctx context.Context, idNamespace, localID string) (*model.File, error)
	// FindDCCByAbbreviation looks a DCC record up case-insensitively.
	FindDCCByAbbreviation(ctx context.Context, abbreviation string) (*model.DCC, error)
	// ParseID converts an opaque store identifier into a match document.
	ParseID(id string) (bson.D, error)
}

type fileRepository struct {
	db *mongo.Database
}

// NewFileRepository creates a FileRepository over the given database.
func NewFileRepository(db *mongo.Database) FileRepository {
	return &fileRepository{db: db}
}

func (r *fileRepository) Aggregate(ctx context.Context, pipeline []bson.D) ([]bson.M, error) {
	cursor, err := r.db.Collection(model.CollFile).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var results []bson.M
	if err := cursor.All(ctx, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *fileRepository) FindFileByKey(ctx context.Context, idNamespace, localID string) (*model.File, error) {
	var file model.File
	err := r.db.Collection(model.CollFile).FindOne(ctx, bson.D{
		{Key: "id_namespace", Value: idNamespace},
		{Key: "local_id", Value: localID},
	}).Decode(&file)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.New(apperr.NotFound, "file %s/%s not found", idNamespace, localID)
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

func (r *fileRepository) FindDCCByAbbreviation(ctx context.Context, abbreviation string) (*model.DCC, error) {
	var dcc model.DCC
	pattern := "^" + regexp.QuoteMeta(abbreviation)
	err := r.db.Collection(model.CollDCC).FindOne(ctx, bson.D{
		{Key: "dcc_abbreviation", Value: primitive.Regex{Pattern: pattern, Options: "i"}},
	}).Decode(&dcc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.New(apperr.NotFound, "DCC %q has no metadata record", abbreviation)
	}
	if err != nil {
		return nil, err
	}
	return &dcc, nil
}

func (r *fileRepository) ParseID(id string) (bson.D, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, apperr.New(apperr.NotFound, "file %q not found", id)
	}
	return bson.D{{Key: "_id", Value: oid}}, nil
}

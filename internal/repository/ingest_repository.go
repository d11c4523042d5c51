package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"cfdb/internal/model"
)

// IngestRepository writes datapackage tables into the store. Each load
// goes through per-submission staging collections so a failed download
// never disturbs the live data of other submissions.
type IngestRepository interface {
	// LoadStaging bulk-inserts rows into a staging collection, stamping
	// each row with the submission it came from. Returns rows written.
	LoadStaging(ctx context.Context, table, submission string, rows []map[string]interface{}) (int, error)
	// Cutover replaces the live rows of one submission with the staged
	// rows, table by table.
	Cutover(ctx context.Context, submission string, tables []string) error
	// DropStaging removes the staging collections for a submission.
	DropStaging(ctx context.Context, submission string, tables []string) error
}

type ingestRepository struct {
	db *mongo.Database
}

// NewIngestRepository creates an IngestRepository over the given database.
func NewIngestRepository(db *mongo.Database) IngestRepository {
	return &ingestRepository{db: db}
}

func stagingName(table, submission string) string {
	return fmt.Sprintf("%s_staging_%s", table, submission)
}

func (r *ingestRepository) LoadStaging(ctx context.Context, table, submission string, rows []map[string]interface{}) (int, error) {
	coll := r.db.Collection(stagingName(table, submission))
	if err := coll.Drop(ctx); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	docs := make([]interface{}, 0, len(rows))
	for _, row := range rows {
		doc := bson.M{model.FieldSubmission: submission}
		for k, v := range row {
			doc[k] = v
		}
		docs = append(docs, doc)
	}
	res, err := coll.InsertMany(ctx, docs)
	if err != nil {
		return 0, err
	}
	return len(res.InsertedIDs), nil
}

func (r *ingestRepository) Cutover(ctx context.Context, submission string, tables []string) error {
	for _, table := range tables {
		live := r.db.Collection(table)
		if _, err := live.DeleteMany(ctx, bson.D{{Key: model.FieldSubmission, Value: submission}}); err != nil {
			return fmt.Errorf("clear %s for %s: %w", table, submission, err)
		}

		// Copy staged rows into the live collection in one server-side pass.
		staging := r.db.Collection(stagingName(table, submission))
		pipeline := []bson.D{
			{{Key: "$merge", Value: bson.D{
				{Key: "into", Value: table},
				{Key: "on", Value: "_id"},
				{Key: "whenMatched", Value: "replace"},
				{Key: "whenNotMatched", Value: "insert"},
			}}},
		}
		cursor, err := staging.Aggregate(ctx, pipeline)
		if err != nil {
			return fmt.Errorf("merge %s for %s: %w", table, submission, err)
		}
		cursor.Close(ctx)
	}
	return nil
}

func (r *ingestRepository) DropStaging(ctx context.Context, submission string, tables []string) error {
	var firstErr error
	for _, table := range tables {
		if err := r.db.Collection(stagingName(table, submission)).Drop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

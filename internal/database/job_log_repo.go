package database

import (
	"context"
	"fmt"
	"time"

	"github.com/dandantas/studyrunner/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// JobLogRepository handles the append-only job log
type JobLogRepository struct {
	collection *mongo.Collection
}

// NewJobLogRepository creates a new job log repository
func NewJobLogRepository(db *MongoDB) *JobLogRepository {
	return &JobLogRepository{
		collection: db.GetCollection(CollectionJobLogs),
	}
}

// AppendLog inserts a log entry. Entries are never updated.
func (r *JobLogRepository) AppendLog(ctx context.Context, entry *model.JobLogEntry) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if entry.ID.IsZero() {
		entry.ID = primitive.NewObjectID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	if _, err := r.collection.InsertOne(ctxTimeout, entry); err != nil {
		return fmt.Errorf("failed to append job log: %w", err)
	}

	return nil
}

// ListLogs returns the latest entries of a job, newest first
func (r *JobLogRepository) ListLogs(ctx context.Context, jobID primitive.ObjectID, limit int) ([]model.JobLogEntry, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Find().
		SetLimit(int64(model.ClampLogLimit(limit))).
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}})

	cursor, err := r.collection.Find(ctxTimeout, bson.M{"job_id": jobID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list job logs: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	entries := make([]model.JobLogEntry, 0)
	if err := cursor.All(ctxTimeout, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode job logs: %w", err)
	}

	return entries, nil
}

// DeleteLogs removes every entry of a job
func (r *JobLogRepository) DeleteLogs(ctx context.Context, jobID primitive.ObjectID) (int64, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := r.collection.DeleteMany(ctxTimeout, bson.M{"job_id": jobID})
	if err != nil {
		return 0, fmt.Errorf("failed to delete job logs: %w", err)
	}

	return result.DeletedCount, nil
}

package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dandantas/studyrunner/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// JobRepository handles job persistence
type JobRepository struct {
	collection *mongo.Collection
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *MongoDB) *JobRepository {
	return &JobRepository{
		collection: db.GetCollection(CollectionJobs),
	}
}

// CreateJob inserts a new job
func (r *JobRepository) CreateJob(ctx context.Context, job *model.Job) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if job.ID.IsZero() {
		job.ID = primitive.NewObjectID()
	}

	if _, err := r.collection.InsertOne(ctxTimeout, job); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJob retrieves a job by ID
func (r *JobRepository) GetJob(ctx context.Context, id primitive.ObjectID) (*model.Job, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var job model.Job
	err := r.collection.FindOne(ctxTimeout, bson.M{"_id": id}).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("job %s: %w", id.Hex(), model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// ListJobs retrieves jobs with filtering and pagination, newest first
func (r *JobRepository) ListJobs(ctx context.Context, filter model.JobFilter, page, limit int) ([]model.Job, int64, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	query := jobFilterQuery(filter)

	total, err := r.collection.CountDocuments(ctxTimeout, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	skip := (page - 1) * limit
	opts := options.Find().
		SetSkip(int64(skip)).
		SetLimit(int64(limit)).
		SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := r.collection.Find(ctxTimeout, query, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	jobs := make([]model.Job, 0)
	if err := cursor.All(ctxTimeout, &jobs); err != nil {
		return nil, 0, fmt.Errorf("failed to decode jobs: %w", err)
	}

	return jobs, total, nil
}

// CountJobs counts jobs matching the filter
func (r *JobRepository) CountJobs(ctx context.Context, filter model.JobFilter) (int64, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	count, err := r.collection.CountDocuments(ctxTimeout, jobFilterQuery(filter))
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}

// CountJobsByStatus returns the number of jobs per status
func (r *JobRepository) CountJobsByStatus(ctx context.Context) (map[model.JobStatus]int64, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}

	cursor, err := r.collection.Aggregate(ctxTimeout, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate job statuses: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	var rows []struct {
		Status model.JobStatus `bson:"_id"`
		Count  int64           `bson:"count"`
	}
	if err := cursor.All(ctxTimeout, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode job statuses: %w", err)
	}

	counts := make(map[model.JobStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// UpdateJob applies patch to the job. When expected is non-empty the update only
// matches while the job is still in that status; a mismatch returns ErrConflict.
func (r *JobRepository) UpdateJob(ctx context.Context, id primitive.ObjectID, expected model.JobStatus, patch model.JobPatch) (*model.Job, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"_id": id}
	if expected != "" {
		filter["status"] = expected
	}
	if patch.ExpectHandle != nil {
		if *patch.ExpectHandle == "" {
			filter["worker_handle"] = bson.M{"$exists": false}
		} else {
			filter["worker_handle"] = *patch.ExpectHandle
		}
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var job model.Job
	err := r.collection.FindOneAndUpdate(ctxTimeout, filter, jobPatchUpdate(patch), opts).Decode(&job)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("failed to update job: %w", err)
		}
		if _, getErr := r.GetJob(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("job %s changed before update: %w", id.Hex(), model.ErrConflict)
	}

	return &job, nil
}

// DeleteJob deletes a job
func (r *JobRepository) DeleteJob(ctx context.Context, id primitive.ObjectID) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := r.collection.DeleteOne(ctxTimeout, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	if result.DeletedCount == 0 {
		return fmt.Errorf("job %s: %w", id.Hex(), model.ErrNotFound)
	}

	return nil
}

func jobFilterQuery(filter model.JobFilter) bson.M {
	query := bson.M{}
	if filter.OwnerID != nil {
		query["owner_id"] = *filter.OwnerID
	}
	if len(filter.Statuses) == 1 {
		query["status"] = filter.Statuses[0]
	} else if len(filter.Statuses) > 1 {
		query["status"] = bson.M{"$in": filter.Statuses}
	}
	if filter.UpdatedBefore != nil {
		query["updated_at"] = bson.M{"$lt": *filter.UpdatedBefore}
	}
	return query
}

// jobPatchUpdate translates a patch into $set/$unset operators
func jobPatchUpdate(p model.JobPatch) bson.M {
	set := bson.M{"updated_at": time.Now().UTC()}
	unset := bson.M{}

	setOrUnset := func(field string, value string) {
		if value == "" {
			unset[field] = ""
			return
		}
		set[field] = value
	}

	if p.Status != nil {
		set["status"] = *p.Status
	}
	if p.Progress != nil {
		set["progress"] = *p.Progress
	}
	if p.CurrentItem != nil {
		setOrUnset("current_item", *p.CurrentItem)
	}
	if p.WorkerHandle != nil {
		setOrUnset("worker_handle", *p.WorkerHandle)
	}
	if p.CompletedCount != nil {
		set["completed_count"] = *p.CompletedCount
	}
	if p.TotalCount != nil {
		set["total_count"] = *p.TotalCount
	}
	if p.FailedCourses != nil {
		if len(*p.FailedCourses) == 0 {
			unset["failed_courses"] = ""
		} else {
			set["failed_courses"] = *p.FailedCourses
		}
	}
	if p.Error != nil {
		setOrUnset("error", *p.Error)
	}
	if p.Scope != nil {
		set["scope"] = *p.Scope
	}
	if p.ClearStartTime {
		unset["start_time"] = ""
	} else if p.StartTime != nil {
		set["start_time"] = *p.StartTime
	}
	if p.ClearEndTime {
		unset["end_time"] = ""
	} else if p.EndTime != nil {
		set["end_time"] = *p.EndTime
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	return update
}

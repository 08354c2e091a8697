package database

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/dandantas/studyrunner/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// LockRepository handles the per-owner admission locks
type LockRepository struct {
	collection *mongo.Collection
}

// NewLockRepository creates a new lock repository
func NewLockRepository(db *MongoDB) *LockRepository {
	return &LockRepository{
		collection: db.GetCollection(CollectionAdmissionLocks),
	}
}

// AcquireLock attempts to take the admission lock for an owner.
// Returns false if another holder owns an unexpired lock.
// Uses MongoDB's FindOneAndUpdate with upsert for atomic lock acquisition.
func (r *LockRepository) AcquireLock(ctx context.Context, ownerID primitive.ObjectID, holder string, ttl time.Duration) (bool, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	// Either no lock exists for this owner, or the existing lock has expired
	filter := bson.M{
		"owner_id": ownerID,
		"$or": []bson.M{
			{"expires_at": bson.M{"$lt": now}},
			{"expires_at": bson.M{"$exists": false}},
		},
	}

	update := bson.M{
		"$set": bson.M{
			"owner_id":   ownerID,
			"locked_by":  holder,
			"locked_at":  now,
			"expires_at": expiresAt,
		},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var result model.AdmissionLock
	err := r.collection.FindOneAndUpdate(ctxTimeout, filter, update, opts).Decode(&result)
	if err != nil {
		// A live lock makes the filter miss, and the upsert then collides with the unique owner index
		if err == mongo.ErrNoDocuments || mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	if result.LockedBy != holder {
		return false, nil
	}

	slog.Debug("Acquired admission lock",
		"owner_id", ownerID.Hex(),
		"holder", holder,
		"expires_at", expiresAt,
	)

	return true, nil
}

// ReleaseLock releases an admission lock, but only if holder owns it
func (r *LockRepository) ReleaseLock(ctx context.Context, ownerID primitive.ObjectID, holder string) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"owner_id":  ownerID,
		"locked_by": holder,
	}

	result, err := r.collection.DeleteOne(ctxTimeout, filter)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	if result.DeletedCount > 0 {
		slog.Debug("Released admission lock",
			"owner_id", ownerID.Hex(),
			"holder", holder,
		)
	}

	return nil
}

// ReleaseInstanceLocks releases every lock taken by this process instance.
// Holders are "<instance>/<attempt>", so the instance prefix identifies them.
func (r *LockRepository) ReleaseInstanceLocks(ctx context.Context, instanceID string) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	filter := bson.M{
		"locked_by": bson.M{"$regex": "^" + regexp.QuoteMeta(instanceID) + "/"},
	}

	result, err := r.collection.DeleteMany(ctxTimeout, filter)
	if err != nil {
		return fmt.Errorf("failed to release instance locks: %w", err)
	}

	if result.DeletedCount > 0 {
		slog.Info("Released admission locks during shutdown",
			"instance_id", instanceID,
			"count", result.DeletedCount,
		)
	}

	return nil
}

// CleanExpiredLocks removes all locks that have expired.
// The TTL index does this eventually; the scheduler calls it to bound the delay.
func (r *LockRepository) CleanExpiredLocks(ctx context.Context) (int64, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	filter := bson.M{
		"expires_at": bson.M{"$lt": time.Now().UTC()},
	}

	result, err := r.collection.DeleteMany(ctxTimeout, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to clean expired locks: %w", err)
	}

	if result.DeletedCount > 0 {
		slog.Info("Cleaned expired admission locks",
			"count", result.DeletedCount,
		)
	}

	return result.DeletedCount, nil
}

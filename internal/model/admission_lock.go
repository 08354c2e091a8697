package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AdmissionLock serializes job admission for one owner across processes
type AdmissionLock struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	OwnerID   primitive.ObjectID `json:"owner_id" bson:"owner_id"`
	LockedBy  string             `json:"locked_by" bson:"locked_by"`   // instance id + attempt id
	LockedAt  time.Time          `json:"locked_at" bson:"locked_at"`
	ExpiresAt time.Time          `json:"expires_at" bson:"expires_at"` // TTL
}

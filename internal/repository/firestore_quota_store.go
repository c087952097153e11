package repository

import (
	"context"
	"fmt"
	"time"

	"statement-converter/internal/models"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type usageDocument struct {
	Count   int       `firestore:"count"`
	ResetAt time.Time `firestore:"reset_at"`
	// ExpireAt is the field a Firestore TTL policy should target for physical cleanup.
	ExpireAt time.Time `firestore:"expire_at"`
}

// FirestoreQuotaStore keeps counters in Firestore documents keyed by identifier; each
// check-and-increment runs in a transaction.
type FirestoreQuotaStore struct {
	client     *firestore.Client
	collection string
	logger     *zap.Logger
}

func NewFirestoreQuotaStore(client *firestore.Client, collection string, logger *zap.Logger) *FirestoreQuotaStore {
	if collection == "" {
		collection = "usage_counters"
	}
	return &FirestoreQuotaStore{
		client:     client,
		collection: collection,
		logger:     logger,
	}
}

func (r *FirestoreQuotaStore) Increment(ctx context.Context, identifier string, limit int, window time.Duration, now time.Time) (models.UsageRecord, bool, error) {
	ref := r.client.Collection(r.collection).Doc(identifier)

	var (
		rec     models.UsageRecord
		allowed bool
	)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// the closure may be retried on contention, so start from a clean slate each time
		rec = models.UsageRecord{Identifier: identifier}
		allowed = false

		var doc usageDocument
		snap, err := tx.Get(ref)
		exists := err == nil
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if exists {
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
		}

		switch {
		case !exists || now.After(doc.ResetAt):
			doc = usageDocument{Count: 1, ResetAt: now.Add(window)}
		case doc.Count >= limit:
			rec.Count = doc.Count
			rec.ResetAt = doc.ResetAt
			return nil
		default:
			doc.Count++
		}

		doc.ExpireAt = doc.ResetAt
		rec.Count = doc.Count
		rec.ResetAt = doc.ResetAt
		allowed = true
		return tx.Set(ref, doc)
	})
	if err != nil {
		return models.UsageRecord{}, false, fmt.Errorf("%w: increment usage: %w", ErrStoreUnavailable, err)
	}

	return rec, allowed, nil
}

func (r *FirestoreQuotaStore) Peek(ctx context.Context, identifier string, now time.Time) (models.UsageRecord, bool, error) {
	snap, err := r.client.Collection(r.collection).Doc(identifier).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return models.UsageRecord{}, false, nil
	}
	if err != nil {
		return models.UsageRecord{}, false, fmt.Errorf("%w: read usage: %w", ErrStoreUnavailable, err)
	}

	var doc usageDocument
	if err := snap.DataTo(&doc); err != nil {
		return models.UsageRecord{}, false, fmt.Errorf("%w: decode usage: %w", ErrStoreUnavailable, err)
	}
	if now.After(doc.ResetAt) {
		return models.UsageRecord{}, false, nil
	}
	return models.UsageRecord{Identifier: identifier, Count: doc.Count, ResetAt: doc.ResetAt}, true, nil
}

// Ping reads a sentinel document; NotFound still proves the backend is reachable.
func (r *FirestoreQuotaStore) Ping(ctx context.Context) error {
	_, err := r.client.Collection(r.collection).Doc("_ping").Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func (r *FirestoreQuotaStore) Close() error {
	return r.client.Close()
}

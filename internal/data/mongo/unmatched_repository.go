// Package mongo provides the MongoDB implementation of the
// unmatched-transaction ledger.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/homestay-payments/reconciliation/internal/domain/unmatched"
)

const (
	// UnmatchedCollectionName is the name of the unmatched-transaction collection
	UnmatchedCollectionName = "unmatched_transactions"
)

// UnmatchedRepository implements the unmatched.Repository interface for MongoDB
type UnmatchedRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewUnmatchedRepository creates a new MongoDB unmatched-transaction repository
// and ensures the unique index backing webhook deduplication.
func NewUnmatchedRepository(ctx context.Context, logger *slog.Logger, db *mongo.Database) (unmatched.Repository, error) {
	repo := &UnmatchedRepository{
		db:     db,
		logger: logger,
	}

	indexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "transaction_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := db.Collection(UnmatchedCollectionName).Indexes().CreateOne(ctx, indexModel); err != nil {
		return nil, fmt.Errorf("failed to ensure unmatched transaction index: %w", err)
	}

	return repo, nil
}

// Create stores a new unmatched transaction. A unique-index violation means a
// racing writer recorded the same transaction first and is reported as
// ErrDuplicateTransaction.
func (r *UnmatchedRepository) Create(ctx context.Context, tx *unmatched.Transaction) error {
	collection := r.db.Collection(UnmatchedCollectionName)

	_, err := collection.InsertOne(ctx, tx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return unmatched.ErrDuplicateTransaction{TransactionID: tx.TransactionID}
		}
		r.logger.Error("Failed to create unmatched transaction",
			"transaction_id", tx.TransactionID,
			"error", err)
		return fmt.Errorf("failed to create unmatched transaction: %w", err)
	}

	return nil
}

// GetByTransactionID retrieves an unmatched transaction by its gateway ID.
// Returns ErrTransactionNotFound if no row exists.
func (r *UnmatchedRepository) GetByTransactionID(ctx context.Context, transactionID string) (*unmatched.Transaction, error) {
	collection := r.db.Collection(UnmatchedCollectionName)

	filter := bson.M{"transaction_id": transactionID}
	var tx unmatched.Transaction
	err := collection.FindOne(ctx, filter).Decode(&tx)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, unmatched.ErrTransactionNotFound{TransactionID: transactionID}
		}
		r.logger.Error("Failed to get unmatched transaction",
			"transaction_id", transactionID,
			"error", err)
		return nil, fmt.Errorf("failed to get unmatched transaction: %w", err)
	}

	return &tx, nil
}

// ExistsByTransactionID reports whether the ledger already carries the
// transaction. Used by the webhook's advisory dedup check.
func (r *UnmatchedRepository) ExistsByTransactionID(ctx context.Context, transactionID string) (bool, error) {
	collection := r.db.Collection(UnmatchedCollectionName)

	filter := bson.M{"transaction_id": transactionID}
	count, err := collection.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		r.logger.Error("Failed to check unmatched transaction existence",
			"transaction_id", transactionID,
			"error", err)
		return false, fmt.Errorf("failed to check unmatched transaction existence: %w", err)
	}

	return count > 0, nil
}

// List returns a page of transactions sorted newest first, optionally
// filtered by status, plus the total count for the filter.
func (r *UnmatchedRepository) List(ctx context.Context, status unmatched.Status, limit, offset int) ([]*unmatched.Transaction, int64, error) {
	collection := r.db.Collection(UnmatchedCollectionName)

	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}

	total, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		r.logger.Error("Failed to count unmatched transactions", "error", err)
		return nil, 0, fmt.Errorf("failed to count unmatched transactions: %w", err)
	}

	opts := options.Find().
		SetSort(bson.M{"transaction_date": -1}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to list unmatched transactions", "error", err)
		return nil, 0, fmt.Errorf("failed to list unmatched transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var transactions []*unmatched.Transaction
	if err := cursor.All(ctx, &transactions); err != nil {
		r.logger.Error("Failed to decode unmatched transactions", "error", err)
		return nil, 0, fmt.Errorf("failed to decode unmatched transactions: %w", err)
	}

	return transactions, total, nil
}

// Resolve applies an operator's terminal decision with a guarded conditional
// update: the row is modified only if it is still unmatched, so two operators
// cannot double-resolve the same transaction.
func (r *UnmatchedRepository) Resolve(ctx context.Context, transactionID string, res unmatched.Resolution) (*unmatched.Transaction, error) {
	collection := r.db.Collection(UnmatchedCollectionName)

	now := time.Now().UTC()
	filter := bson.M{
		"transaction_id": transactionID,
		"status":         unmatched.StatusUnmatched,
	}
	update := bson.M{
		"$set": bson.M{
			"status":             res.Status,
			"matched_booking_id": res.MatchedBookingID,
			"matched_by":         res.ResolvedBy,
			"matched_at":         now,
			"match_notes":        res.Notes,
		},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var tx unmatched.Transaction
	err := collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&tx)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Either the row does not exist or it already left the unmatched
			// state; disambiguate for the caller.
			if _, getErr := r.GetByTransactionID(ctx, transactionID); getErr != nil {
				return nil, getErr
			}
			return nil, unmatched.ErrAlreadyResolved{TransactionID: transactionID}
		}
		r.logger.Error("Failed to resolve unmatched transaction",
			"transaction_id", transactionID,
			"status", string(res.Status),
			"error", err)
		return nil, fmt.Errorf("failed to resolve unmatched transaction: %w", err)
	}

	return &tx, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"access_service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// AgreementRepository stores NDA requests. This collection is the source
// of truth for agreement-derived access; the grant ledger is only a
// projection of its signed rows.
type AgreementRepository struct {
	collection *mongo.Collection
}

func NewAgreementRepository(db *mongo.Database) *AgreementRepository {
	return &AgreementRepository{
		collection: db.Collection("AgreementRequest"),
	}
}

func (r *AgreementRepository) CreateIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "resourceId", Value: 1},
			{Key: "requesterId", Value: 1},
			{Key: "status", Value: 1},
		},
	})
	return err
}

func (r *AgreementRepository) New(ctx context.Context, request *models.AgreementRequest) (*models.AgreementRequest, error) {
	if request.ID.IsZero() {
		request.ID = bson.NewObjectID()
	}
	if request.RequestedAt == 0 {
		request.RequestedAt = time.Now().Unix()
	}

	_, err := r.collection.InsertOne(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("failed to insert agreement request: %w", err)
	}
	return request, nil
}

func (r *AgreementRepository) FindByID(ctx context.Context, id bson.ObjectID) (*models.AgreementRequest, error) {
	var request models.AgreementRequest
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&request)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &request, nil
}

// FindActive returns the pending/approved/signed request for the pair,
// or models.ErrNotFound. The invariant that at most one such row exists
// is enforced by the duplicate guard on request creation.
func (r *AgreementRepository) FindActive(ctx context.Context, resourceID, requesterID string) (*models.AgreementRequest, error) {
	filter := bson.M{
		"resourceId":  resourceID,
		"requesterId": requesterID,
		"status": bson.M{"$in": []models.AgreementStatus{
			models.AgreementStatusPending,
			models.AgreementStatusApproved,
			models.AgreementStatusSigned,
		}},
	}

	var request models.AgreementRequest
	err := r.collection.FindOne(ctx, filter).Decode(&request)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &request, nil
}

// FindActiveByResource lists every pending/approved/signed request on a
// resource, across requesters.
func (r *AgreementRepository) FindActiveByResource(ctx context.Context, resourceID string) ([]*models.AgreementRequest, error) {
	filter := bson.M{
		"resourceId": resourceID,
		"status": bson.M{"$in": []models.AgreementStatus{
			models.AgreementStatusPending,
			models.AgreementStatusApproved,
			models.AgreementStatusSigned,
		}},
	}

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var requests []*models.AgreementRequest
	if err = cursor.All(ctx, &requests); err != nil {
		return nil, err
	}
	return requests, nil
}

// UpdateStatus is a compare-and-set on the status field: the update only
// applies if the request is still in the expected from status. It reports
// whether this call won the transition. Concurrent signers race here and
// exactly one of them sees matched=true.
func (r *AgreementRepository) UpdateStatus(ctx context.Context, id bson.ObjectID, from, to models.AgreementStatus, fields map[string]any) (bool, error) {
	set := bson.M{"status": to}
	for k, v := range fields {
		set[k] = v
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, fmt.Errorf("failed to update agreement status: %w", err)
	}
	return result.MatchedCount == 1, nil
}

func (r *AgreementRepository) FindByStatus(ctx context.Context, status models.AgreementStatus) ([]*models.AgreementRequest, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"status": status})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var requests []*models.AgreementRequest
	if err = cursor.All(ctx, &requests); err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *AgreementRepository) FindByRequester(ctx context.Context, requesterID string, page, limit int) ([]*models.AgreementRequest, error) {
	opts := mongoFindOpts(page, limit)
	opts.SetSort(bson.M{"requestedAt": -1})

	cursor, err := r.collection.Find(ctx, bson.M{"requesterId": requesterID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var requests []*models.AgreementRequest
	if err = cursor.All(ctx, &requests); err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *AgreementRepository) FindByOwner(ctx context.Context, ownerID string, page, limit int) ([]*models.AgreementRequest, error) {
	opts := mongoFindOpts(page, limit)
	opts.SetSort(bson.M{"requestedAt": -1})

	cursor, err := r.collection.Find(ctx, bson.M{"ownerId": ownerID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var requests []*models.AgreementRequest
	if err = cursor.All(ctx, &requests); err != nil {
		return nil, err
	}
	return requests, nil
}

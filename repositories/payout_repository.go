package repositories

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/marketora/payout_backend/models"
)

// PayoutRepository is the only writer of payout_requests after creation.
// Transitions go through CommitTransition, which performs a conditional
// update on the expected status so concurrent admin actions cannot both win.
type PayoutRepository struct {
	db *mongo.Database
}

func NewPayoutRepository(db *mongo.Database) *PayoutRepository {
	return &PayoutRepository{db: db}
}

func (r *PayoutRepository) collection() *mongo.Collection {
	return r.db.Collection("payout_requests")
}

// Create inserts a new pending payout request. The partial unique index on
// sellerId over the open statuses makes the one-open-request rule atomic:
// when two creations race, the second insert fails with a duplicate key.
func (r *PayoutRepository) Create(ctx context.Context, payout *models.PayoutRequest) error {
	payout.ID = primitive.NewObjectID()
	_, err := r.collection().InsertOne(ctx, payout)
	if mongo.IsDuplicateKeyError(err) {
		return &models.OpenRequestExistsError{SellerID: payout.SellerID.Hex()}
	}
	return err
}

// FindByID fetches a single payout request.
func (r *PayoutRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*models.PayoutRequest, error) {
	var payout models.PayoutRequest
	err := r.collection().FindOne(ctx, bson.M{"_id": id}).Decode(&payout)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, &models.NotFoundError{Resource: "payout request", ID: id.Hex()}
		}
		return nil, err
	}
	return &payout, nil
}

// Fields fixed at creation time. No transition may touch them.
var immutablePayoutFields = map[string]bool{
	"_id":           true,
	"requestNumber": true,
	"sellerId":      true,
	"amount":        true,
	"earnings":      true,
	"paymentMethod": true,
	"createdAt":     true,
}

// CommitTransition applies the field updates of a transition if and only if
// the record is still in the expected status. When the status moved in the
// meantime the update matches nothing and the caller gets an
// IllegalTransitionError carrying the current status, so at most one of two
// racing actions can succeed.
func (r *PayoutRepository) CommitTransition(ctx context.Context, id primitive.ObjectID, from models.PayoutStatus, action models.PayoutAction, set bson.M) error {
	for field := range set {
		if immutablePayoutFields[field] {
			return &models.ImmutableFieldError{Field: field}
		}
	}

	res, err := r.collection().UpdateOne(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": set},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		current, err := r.FindByID(ctx, id)
		if err != nil {
			return err
		}
		return &models.IllegalTransitionError{Status: current.Status, Action: action}
	}
	return nil
}

// List returns a page of payout requests matching the filter, newest first,
// along with the total match count for pagination.
func (r *PayoutRepository) List(ctx context.Context, filter models.PayoutFilter) ([]models.PayoutRequest, int64, error) {
	query := bson.M{}

	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.Priority != "" {
		query["priority"] = filter.Priority
	}
	if filter.SellerID != "" {
		sellerID, err := primitive.ObjectIDFromHex(filter.SellerID)
		if err != nil {
			return nil, 0, &models.ValidationError{Field: "sellerId", Reason: "invalid id format"}
		}
		query["sellerId"] = sellerID
	}

	dateRange := bson.M{}
	if !filter.From.IsZero() {
		dateRange["$gte"] = filter.From
	}
	if !filter.To.IsZero() {
		dateRange["$lte"] = filter.To
	}
	if len(dateRange) > 0 {
		query["createdAt"] = dateRange
	}

	if filter.Search != "" {
		regex := primitive.Regex{Pattern: filter.Search, Options: "i"}
		or := []bson.M{{"requestNumber": regex}}

		// Sellers matching the search term by name or store
		sellerCursor, err := r.db.Collection("sellers").Find(ctx, bson.M{
			"$or": []bson.M{{"fullName": regex}, {"storeName": regex}},
		}, options.Find().SetProjection(bson.M{"_id": 1}))
		if err == nil {
			var matched []struct {
				ID primitive.ObjectID `bson:"_id"`
			}
			if err := sellerCursor.All(ctx, &matched); err == nil && len(matched) > 0 {
				ids := make([]primitive.ObjectID, 0, len(matched))
				for _, m := range matched {
					ids = append(ids, m.ID)
				}
				or = append(or, bson.M{"sellerId": bson.M{"$in": ids}})
			}
		}
		query["$or"] = or
	}

	total, err := r.collection().CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 || limit > 100 {
		limit = 20
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip((page - 1) * limit).
		SetLimit(limit)

	cursor, err := r.collection().Find(ctx, query, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	var payouts []models.PayoutRequest
	if err := cursor.All(ctx, &payouts); err != nil {
		return nil, 0, err
	}

	return payouts, total, nil
}

// Stats aggregates request counts and summed amounts per status. Display
// only, the figures may trail concurrent writes.
func (r *PayoutRepository) Stats(ctx context.Context) ([]models.PayoutStatusStat, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id":         "$status",
			"count":       bson.M{"$sum": 1},
			"totalAmount": bson.M{"$sum": "$amount"},
		}}},
		{{Key: "$sort", Value: bson.M{"_id": 1}}},
	}

	cursor, err := r.collection().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var stats []models.PayoutStatusStat
	if err := cursor.All(ctx, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// SumCompletedForSeller totals the seller's already-disbursed payouts, the
// previousPayouts input of the reconciliation.
func (r *PayoutRepository) SumCompletedForSeller(ctx context.Context, sellerID primitive.ObjectID) (models.Money, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"sellerId": sellerID,
			"status":   models.PayoutStatusCompleted,
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"total": bson.M{"$sum": "$amount"},
		}}},
	}

	cursor, err := r.collection().Aggregate(ctx, pipeline)
	if err != nil {
		return models.ZeroMoney(), err
	}
	defer cursor.Close(ctx)

	var result []struct {
		Total models.Money `bson:"total"`
	}
	if err := cursor.All(ctx, &result); err != nil {
		return models.ZeroMoney(), err
	}
	if len(result) == 0 {
		return models.ZeroMoney(), nil
	}
	return result[0].Total, nil
}

// HasOpenRequest reports whether the seller already has a request that is
// neither completed, rejected nor cancelled. One open request at a time.
func (r *PayoutRepository) HasOpenRequest(ctx context.Context, sellerID primitive.ObjectID) (bool, error) {
	count, err := r.collection().CountDocuments(ctx, bson.M{
		"sellerId": sellerID,
		"status": bson.M{"$in": []models.PayoutStatus{
			models.PayoutStatusPending,
			models.PayoutStatusUnderReview,
			models.PayoutStatusApproved,
			models.PayoutStatusProcessing,
		}},
	}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListForSeller returns the seller's own payout history, newest first.
func (r *PayoutRepository) ListForSeller(ctx context.Context, sellerID primitive.ObjectID) ([]models.PayoutRequest, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := r.collection().Find(ctx, bson.M{"sellerId": sellerID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var payouts []models.PayoutRequest
	if err := cursor.All(ctx, &payouts); err != nil {
		return nil, err
	}
	return payouts, nil
}

package repositories

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/marketora/payout_backend/models"
)

type SellerRepository struct {
	db *mongo.Database
}

func NewSellerRepository(db *mongo.Database) *SellerRepository {
	return &SellerRepository{db: db}
}

func (r *SellerRepository) collection() *mongo.Collection {
	return r.db.Collection("sellers")
}

func (r *SellerRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Seller, error) {
	var seller models.Seller
	err := r.collection().FindOne(ctx, bson.M{"_id": id}).Decode(&seller)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, &models.NotFoundError{Resource: "seller", ID: id.Hex()}
		}
		return nil, err
	}
	return &seller, nil
}

// UpdateFCMToken stores the seller's device token for push notifications.
func (r *SellerRepository) UpdateFCMToken(ctx context.Context, id primitive.ObjectID, token string) error {
	_, err := r.collection().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"fcmToken": token}})
	return err
}

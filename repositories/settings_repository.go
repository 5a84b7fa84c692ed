package repositories

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/marketora/payout_backend/models"
)

// defaultPlatformFeePercentage applies until an admin saves settings.
const defaultPlatformFeePercentage = 10.0

type SettingsRepository struct {
	db *mongo.Database
}

func NewSettingsRepository(db *mongo.Database) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) collection() *mongo.Collection {
	return r.db.Collection("commission_settings")
}

// Current returns the most recently saved commission settings, falling back
// to the default fee percentage when none exist yet.
func (r *SettingsRepository) Current(ctx context.Context) (*models.CommissionSettings, error) {
	var settings models.CommissionSettings
	opts := options.FindOne().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	err := r.collection().FindOne(ctx, bson.M{}, opts).Decode(&settings)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return &models.CommissionSettings{
				PlatformFeePercentage: defaultPlatformFeePercentage,
				MinPayoutAmount:       models.ZeroMoney(),
				MaxPayoutAmount:       models.ZeroMoney(),
			}, nil
		}
		return nil, err
	}
	return &settings, nil
}

// Save appends a new settings document so earlier snapshots stay auditable.
func (r *SettingsRepository) Save(ctx context.Context, settings *models.CommissionSettings, updatedBy primitive.ObjectID) error {
	settings.ID = primitive.NewObjectID()
	settings.UpdatedBy = updatedBy
	settings.UpdatedAt = time.Now()
	_, err := r.collection().InsertOne(ctx, settings)
	return err
}

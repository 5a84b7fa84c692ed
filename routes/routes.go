package routes

import (
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/marketora/payout_backend/controllers"
	"github.com/marketora/payout_backend/middleware"
	"github.com/marketora/payout_backend/models"
	"github.com/marketora/payout_backend/repositories"
	"github.com/marketora/payout_backend/services"
	"github.com/marketora/payout_backend/websocket"
)

// SetupRoutes wires repositories, services and controllers and registers
// every route of the payout service.
func SetupRoutes(e *echo.Echo, db *mongo.Database, hub *websocket.Hub, cache *redis.Client) {
	payoutRepo := repositories.NewPayoutRepository(db)
	sellerRepo := repositories.NewSellerRepository(db)
	settingsRepo := repositories.NewSettingsRepository(db)

	earningsService := services.NewEarningsService(sellerRepo, payoutRepo, settingsRepo)
	notificationService := services.NewNotificationService(db, hub)

	payoutController := controllers.NewPayoutController(payoutRepo, sellerRepo, earningsService, notificationService, cache)
	authController := controllers.NewAuthController(db)
	settingsController := controllers.NewSettingsController(settingsRepo)
	notificationController := controllers.NewNotificationController(db, sellerRepo)

	// Public auth endpoints
	e.POST("/api/admin/login", authController.AdminLogin)
	e.POST("/api/auth/login", authController.SellerLogin)

	// Super-admin endpoints
	superAdmin := e.Group("/api/admin")
	superAdmin.Use(middleware.JWTMiddleware())
	superAdmin.Use(middleware.RequireUserType("super_admin"))
	superAdmin.POST("/register", authController.RegisterAdmin)

	// Admin payout review surface
	admin := e.Group("/api/admin")
	admin.Use(middleware.JWTMiddleware())
	admin.Use(middleware.RequireUserType("admin"))

	admin.GET("/payouts", payoutController.ListPayouts)
	admin.GET("/payouts/stats", payoutController.GetPayoutStats)
	admin.GET("/payouts/:id", payoutController.GetPayout)
	admin.GET("/payouts/:id/receipt-qr", payoutController.GetPayoutReceiptQR)
	admin.POST("/payouts/:id/review", payoutController.ReviewPayout)
	admin.POST("/payouts/:id/approve", payoutController.ApprovePayout)
	admin.POST("/payouts/:id/reject", payoutController.RejectPayout)
	admin.POST("/payouts/:id/process", payoutController.ProcessPayout)
	admin.POST("/payouts/:id/complete", payoutController.CompletePayout)
	admin.POST("/payouts/:id/cancel", payoutController.CancelPayout)

	admin.GET("/settings/commission", settingsController.GetCommissionSettings)
	admin.PUT("/settings/commission", settingsController.UpdateCommissionSettings)

	admin.POST("/logout", authController.Logout)

	// Seller self-service surface
	seller := e.Group("/api")
	seller.Use(middleware.JWTMiddleware())

	seller.POST("/payouts", payoutController.CreatePayoutRequest)
	seller.GET("/payouts", payoutController.GetSellerPayouts)
	seller.GET("/payouts/:id", payoutController.GetSellerPayout)

	seller.GET("/notifications", notificationController.GetNotifications)
	seller.PUT("/notifications/:id/read", notificationController.MarkAsRead)
	seller.PUT("/notifications/fcm-token", notificationController.UpdateFCMToken)

	seller.POST("/logout", authController.Logout)

	// Live payout status updates
	seller.GET("/ws", func(c echo.Context) error {
		userID := middleware.GetUserIDFromToken(c)
		userObjectID, err := primitive.ObjectIDFromHex(userID)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, models.Response{
				Status:  http.StatusUnauthorized,
				Message: "Invalid user ID in token",
			})
		}
		return websocket.HandleWebSocket(c, hub, userObjectID)
	})
}

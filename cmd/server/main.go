package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/campuspay/backend/docs"
	"github.com/campuspay/backend/internal/database"
	"github.com/campuspay/backend/internal/handlers"
	mW "github.com/campuspay/backend/internal/middleware"
	"github.com/campuspay/backend/internal/models"
	"github.com/campuspay/backend/internal/services"
)

// @title CampusPay Canteen API
// @version 1.0
// @description API for the campus cashless canteen system
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

	// Set environment variable prefix
	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "CampusPay Canteen API"
	docs.SwaggerInfo.Description = "API for the campus cashless canteen system"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	posService := services.NewPOSService(db, redisClient)
	accountService := services.NewAccountService(db)
	catalogService := services.NewCatalogService(db)
	cardService := services.NewCardService(db)
	actionLogService := services.NewActionLogService(db)
	authService := services.NewAuthService(db, redisClient)

	ledgerService := services.NewLedgerService(db)
	receiptNotifier := services.NewReceiptNotifier(redisClient)
	topUpHandler := handlers.NewTopUpHandler(db, ledgerService, receiptNotifier)

	qrService := services.NewQRService(db, redisClient)
	qrHandler := handlers.NewQRHandler(qrService)

	linkCodeService := services.NewLinkCodeService(db, redisClient)
	linkCodeHandler := handlers.NewLinkCodeHandler(linkCodeService)

	// Expired link codes are swept hourly
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if err := linkCodeService.CleanupExpiredCodes(context.Background()); err != nil {
				log.Printf("[LINK] Cleanup failed: %v", err)
			}
		}
	}()

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// Static file server for menu item photos
	r.Handle("/static/item-photos/*", http.StripPrefix("/static/item-photos/",
		mW.StaticFileServer("./static/item-photos")))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)
		r.Post("/auth/send-otp", authService.SendOTP)
		r.Post("/auth/verify-otp", authService.VerifyOTP)
		r.Get("/catalog/categories", catalogService.GetCategories)
		r.Get("/catalog/items", catalogService.ListItems)
		r.Post("/cards/activate", cardService.ActivateCard)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/profile", authService.GetProfile)

			// Account enquiry (shared by till and parent portal)
			r.Get("/accounts/name-enquiry", accountService.NameEnquiry)
			r.Get("/accounts/balance-enquiry", accountService.BalanceEnquiry)
			r.Get("/accounts/{accountId}/activity", accountService.Activity)

			// Parent linking
			r.Post("/link/redeem", linkCodeHandler.RedeemCode)
			r.Get("/link/accounts", linkCodeHandler.LinkedAccounts)

			// QR pass for card-less checkout
			r.Post("/qr/pass", qrHandler.GeneratePass)

			// Top-up: parents via PORTAL for linked accounts, staff for CASH.
			// The handler enforces the per-role rules.
			r.Post("/accounts/{accountId}/topup", topUpHandler.TopUp)

			// Cashier surface
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireRole(models.RoleCashier, models.RoleAdmin))

				r.Post("/sales", posService.Checkout)
				r.Get("/sales", posService.ListSales)
				r.Get("/sales/recent", posService.RecentSales)
				r.Get("/sales/{saleId}", posService.GetSale)
				r.Post("/sales/{saleId}/lines/{lineId}/void", posService.VoidLine)

				r.Get("/cards/{cardUid}/account", cardService.ResolveCard)
				r.Post("/qr/redeem", qrHandler.RedeemPass)
			})

			// Admin surface
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireRole(models.RoleAdmin))

				r.Post("/accounts", authService.CreateStudentAccount)
				r.Put("/accounts/{accountId}/daily-limit", accountService.SetDailyLimit)
				r.Post("/auth/staff", authService.CreateStaff)

				r.Post("/catalog/items", catalogService.CreateItem)
				r.Put("/catalog/items/{itemId}", catalogService.UpdateItem)
				r.Delete("/catalog/items/{itemId}", catalogService.RetireItem)

				r.Post("/cards", cardService.RegisterCard)
				r.Get("/cards/{cardUid}", cardService.GetCard)
				r.Put("/cards/{cardUid}/suspend", cardService.SuspendCard)
				r.Put("/cards/{cardUid}/reinstate", cardService.ReinstateCard)

				r.Post("/link/generate", linkCodeHandler.GenerateCode)

				r.Get("/logs", actionLogService.ListLogs)
			})
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}

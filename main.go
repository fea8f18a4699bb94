package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"openhouse/api"
	"openhouse/config"
	"openhouse/db"
	"openhouse/images"
	"openhouse/utils"
)

// @title           OpenHouse API
// @version         1.0.0

// @description     ## OpenHouse API
// @description
// @description     A REST backend for a real-estate listing site. It lets visitors browse and search property listings, and lets registered users publish and manage their own.
// @description
// @description     **High-Level Overview:**
// @description     *   Anyone can list, search and view properties: filter by type, price range, rooms, city or keyword, search by proximity to a point, sort, and page through results.
// @description     *   Registered users can create listings with photos, update them, and delete them. Owners only ever manage their own listings; admins can manage any.
// @description     *   Every successful single-property fetch counts as a view, so owners can see how much attention a listing gets.
// @description
// @description     **Searching (`GET /properties`):**
// @description     All query parameters are optional and freely combinable. Values that fail to parse are ignored rather than rejected, so a link with a broken filter still renders a page.
// @description     *   Exact filters: `propertyType`, `listingType`, `status`.
// @description     *   Substring filters (case-insensitive): `city`, `state`.
// @description     *   Text search: `keyword` matches every word against the title and description.
// @description     *   Ranges: `minPrice`/`maxPrice`, `minArea`/`maxArea`; minimums: `bedrooms`, `bathrooms`.
// @description     *   `featured=true` restricts to featured listings.
// @description     *   Proximity: `latitude` and `longitude` together activate a radius search (`radius` in meters, default 10000). Without an explicit `sort`, results come back nearest first.
// @description     *   `sort` names a field (`price`, `area`, `bedrooms`, `bathrooms`, `views`, `created_at`, `updated_at`); prefix with `-` for descending. Default is newest first.
// @description     *   `page` (default 1) and `limit` (default 12) control pagination.

// @license.name  MIT

// @host      localhost:8080
// @BasePath  /

// @securityDefinitions.jwt BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	// --- Configuration ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("CRITICAL: Failed to load configuration: %v", err)
	}

	// --- Database ---
	database, err := db.NewDatabase(cfg)
	if err != nil {
		// NewDatabase logs specifics, including critical parse errors
		log.Fatalf("CRITICAL: Failed to initialize database: %v", err)
	}

	// --- Image Store ---
	store := images.NewCloudinaryStore(cfg)

	// --- Gin Router Setup ---
	router := buildRouter(database, store, cfg)

	// --- Start Server ---
	listenAddr := fmt.Sprintf("%s:%s", cfg.ListenAddress, cfg.ListenPort)
	log.Printf("INFO: Starting server on %s", listenAddr)

	server := &http.Server{
		Addr:    listenAddr,
		Handler: router,
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("CRITICAL: Server failed to start: %v", err)
	}
}

// buildRouter assembles the full route table. Tests build the same router so
// they exercise exactly what runs in production.
func buildRouter(database *db.Database, store images.Store, cfg *config.Config) *gin.Engine {
	router := gin.Default()

	authMiddleware := utils.AuthMiddleware(cfg)

	// --- Auth Routes ---
	authGroup := router.Group("/auth")
	{
		// POST /auth/signup
		authGroup.POST("/signup", func(c *gin.Context) {
			api.SignupHandler(c, database, cfg)
		})
		// POST /auth/login
		authGroup.POST("/login", func(c *gin.Context) {
			api.LoginHandler(c, database, cfg)
		})
		// GET /auth/me
		authGroup.GET("/me", authMiddleware, func(c *gin.Context) {
			api.MeHandler(c, database, cfg)
		})
		// PUT /auth/me
		authGroup.PUT("/me", authMiddleware, func(c *gin.Context) {
			api.UpdateMeHandler(c, database, cfg)
		})
	}

	// --- Property Routes ---
	propGroup := router.Group("/properties")
	{
		// Public browsing
		// GET /properties (search)
		propGroup.GET("", func(c *gin.Context) {
			api.ListPropertiesHandler(c, database, cfg)
		})
		// GET /properties/{id}
		propGroup.GET("/:id", func(c *gin.Context) {
			api.GetPropertyHandler(c, database, cfg)
		})

		// Authenticated management
		// POST /properties
		propGroup.POST("", authMiddleware, func(c *gin.Context) {
			api.CreatePropertyHandler(c, database, store, cfg)
		})
		// PUT /properties/{id}
		propGroup.PUT("/:id", authMiddleware, func(c *gin.Context) {
			api.UpdatePropertyHandler(c, database, store, cfg)
		})
		// DELETE /properties/{id}
		propGroup.DELETE("/:id", authMiddleware, func(c *gin.Context) {
			api.DeletePropertyHandler(c, database, store, cfg)
		})
		// GET /properties/user/myproperties
		propGroup.GET("/user/myproperties", authMiddleware, func(c *gin.Context) {
			api.MyPropertiesHandler(c, database, cfg)
		})
	}

	// --- Swagger Route ---
	// Serve static files (swagger.json) from the docs directory, with the UI
	// on a separate path to avoid a route conflict.
	router.StaticFS("/docs", http.Dir("docs"))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/docs/swagger.json")))

	return router
}

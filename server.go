package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/marketplace_backend/config"
	"bitbucket.org/mmdatafocus/marketplace_backend/middlewares"
	"bitbucket.org/mmdatafocus/marketplace_backend/models"
	"bitbucket.org/mmdatafocus/marketplace_backend/utils"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("marketplace-backend")

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

func writeModelError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorConflictingState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorInsufficientStock),
		errors.Is(err, utils.ErrorInsufficientFunds),
		errors.Is(err, utils.ErrorTotalMismatch),
		errors.Is(err, utils.ErrorEmptyCart),
		errors.Is(err, utils.ErrorInvalidInput):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func registerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewUser
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		user, err := models.CreateUser(c.Request.Context(), &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusCreated, user)
	}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		info, err := models.Login(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

func logoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := models.Logout(c.Request.Context())
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": ok})
	}
}

func listProductsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		shopId, _ := strconv.Atoi(c.Query("shop_id"))
		categoryId, _ := strconv.Atoi(c.Query("category_id"))
		limit, _ := strconv.Atoi(c.Query("limit"))
		var after *string
		if v := c.Query("after"); v != "" {
			after = &v
		}
		conn, err := models.PaginateProducts(c.Request.Context(), shopId, categoryId, limit, after)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, conn)
	}
}

func getProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		product, err := models.GetProduct(c.Request.Context(), id)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, product)
	}
}

func createProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewProduct
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		product, err := models.CreateProduct(c.Request.Context(), &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusCreated, product)
	}
}

func updateProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input models.NewProduct
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		product, err := models.UpdateProduct(c.Request.Context(), id, &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, product)
	}
}

func createVariantHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewProductVariant
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		variant, err := models.CreateProductVariant(c.Request.Context(), &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusCreated, variant)
	}
}

func updateVariantHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input models.NewProductVariant
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		variant, err := models.UpdateProductVariant(c.Request.Context(), id, &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, variant)
	}
}

func adjustStockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewStockMovement
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		movement, err := models.AdjustStock(c.Request.Context(), &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusCreated, movement)
	}
}

func listStockMovementsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		productId, _ := strconv.Atoi(c.Query("product_id"))
		shopId, _ := strconv.Atoi(c.Query("shop_id"))
		limit, _ := strconv.Atoi(c.Query("limit"))
		var after *string
		if v := c.Query("after"); v != "" {
			after = &v
		}
		conn, err := models.PaginateStockMovements(c.Request.Context(), productId, shopId, limit, after)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, conn)
	}
}

func getVariantStockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		productId, _ := strconv.Atoi(c.Query("product_id"))
		variantId, _ := strconv.Atoi(c.Query("variant_id"))
		if productId == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "product_id is required"})
			return
		}
		qty, err := models.GetVariantStock(c.Request.Context(), productId, variantId)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"product_id": productId,
			"variant_id": variantId,
			"stock_qty":  qty,
		})
	}
}

func issueDownloadTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		token, err := models.IssueDownloadToken(c.Request.Context(), id)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"download_token": token})
	}
}

func resolveDownloadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		url, err := models.ResolveDownloadToken(c.Request.Context(), c.Param("token"))
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.Redirect(http.StatusFound, url)
	}
}

func rebuildStockCountersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		fix := c.Query("fix") == "true"
		drifts, err := models.RebuildStockCounters(c.Request.Context(), fix)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"drifts": drifts, "fixed": fix})
	}
}

func checkoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.CheckoutInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		order, err := models.Checkout(c.Request.Context(), &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		c.JSON(http.StatusCreated, gin.H{
			"order":          order,
			"correlation_id": cid,
		})
	}
}

func listOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.Query("limit"))
		var after *string
		if v := c.Query("after"); v != "" {
			after = &v
		}
		conn, err := models.PaginateOrders(c.Request.Context(), limit, after)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, conn)
	}
}

func getOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		order, err := models.GetOrder(c.Request.Context(), id)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func createShopHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewVendorShop
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		shop, err := models.CreateVendorShop(c.Request.Context(), &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusCreated, shop)
	}
}

func updateShopHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input models.NewVendorShop
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		shop, err := models.UpdateVendorShop(c.Request.Context(), id, &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, shop)
	}
}

func getShopHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		shop, err := models.GetVendorShop(c.Request.Context(), id)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, shop)
	}
}

func listShopsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var status *models.ShopStatus
		if v := c.Query("status"); v != "" {
			s := models.ShopStatus(v)
			status = &s
		}
		shops, err := models.GetAllVendorShops(c.Request.Context(), status)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, shops)
	}
}

type approveShopRequest struct {
	CommissionPercentage decimal.Decimal `json:"commission_percentage"`
}

func approveShopHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req approveShopRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		shop, err := models.ApproveVendorShop(c.Request.Context(), id, req.CommissionPercentage)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, shop)
	}
}

func suspendShopHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		shop, err := models.SuspendVendorShop(c.Request.Context(), id)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, shop)
	}
}

type moderateProductRequest struct {
	Status models.ProductStatus `json:"status" binding:"required"`
}

func moderateProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req moderateProductRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		product, err := models.ModerateProduct(c.Request.Context(), id, req.Status)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, product)
	}
}

func listVendorOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		shopId, _ := strconv.Atoi(c.Query("shop_id"))
		limit, _ := strconv.Atoi(c.Query("limit"))
		var status *models.OrderStatus
		if v := c.Query("status"); v != "" {
			s := models.OrderStatus(v)
			status = &s
		}
		var after *string
		if v := c.Query("after"); v != "" {
			after = &v
		}
		conn, err := models.PaginateVendorOrders(c.Request.Context(), shopId, status, limit, after)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, conn)
	}
}

func getVendorOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		vendorOrder, err := models.GetVendorOrder(c.Request.Context(), id)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, vendorOrder)
	}
}

type vendorOrderStatusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

func updateVendorOrderStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req vendorOrderStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		vendorOrder, err := models.UpdateVendorOrderStatus(c.Request.Context(), id, req.Status)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, vendorOrder)
	}
}

func getWalletHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		shopId, _ := strconv.Atoi(c.Query("shop_id"))
		wallet, err := models.GetVendorWallet(c.Request.Context(), shopId)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, wallet)
	}
}

func listWalletTransactionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		shopId, _ := strconv.Atoi(c.Query("shop_id"))
		limit, _ := strconv.Atoi(c.Query("limit"))
		var after *string
		if v := c.Query("after"); v != "" {
			after = &v
		}
		conn, err := models.PaginateWalletTransactions(c.Request.Context(), shopId, limit, after)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, conn)
	}
}

func recordWalletTransactionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewVendorTransaction
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		transaction, err := models.RecordWalletTransaction(c.Request.Context(), &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusCreated, transaction)
	}
}

func requestPayoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewVendorPayout
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		payout, err := models.RequestPayout(c.Request.Context(), &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusCreated, payout)
	}
}

func listPayoutsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		shopId, _ := strconv.Atoi(c.Query("shop_id"))
		limit, _ := strconv.Atoi(c.Query("limit"))
		var status *models.PayoutStatus
		if v := c.Query("status"); v != "" {
			s := models.PayoutStatus(v)
			status = &s
		}
		var after *string
		if v := c.Query("after"); v != "" {
			after = &v
		}
		conn, err := models.PaginateVendorPayouts(c.Request.Context(), shopId, status, limit, after)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, conn)
	}
}

func getPayoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		payout, err := models.GetVendorPayout(c.Request.Context(), id)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, payout)
	}
}

type transitionPayoutRequest struct {
	Status models.PayoutStatus `json:"status" binding:"required"`
	Reason string              `json:"reason"`
}

func transitionPayoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req transitionPayoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		payout, err := models.TransitionPayout(c.Request.Context(), id, req.Status, req.Reason)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, payout)
	}
}

func listCategoriesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		categories, err := models.GetAllCategories(c.Request.Context())
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, categories)
	}
}

func createCategoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewCategory
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		category, err := models.CreateCategory(c.Request.Context(), &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusCreated, category)
	}
}

func updateCategoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input models.NewCategory
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		category, err := models.UpdateCategory(c.Request.Context(), id, &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, category)
	}
}

func listBrandsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		brands, err := models.GetAllBrands(c.Request.Context())
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, brands)
	}
}

func createBrandHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewBrand
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		brand, err := models.CreateBrand(c.Request.Context(), &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusCreated, brand)
	}
}

func updateBrandHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input models.NewBrand
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		brand, err := models.UpdateBrand(c.Request.Context(), id, &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, brand)
	}
}

func listUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		users, err := models.GetAllUsers(c.Request.Context())
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, users)
	}
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request, attach to context, and open
	// the request span so downstream gorm spans (otelgorm) nest under it.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), cid)
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+c.FullPath())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		span.End()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.SessionMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	// public
	r.POST("/auth/register", registerHandler())
	r.POST("/auth/login", loginHandler())
	r.GET("/products", listProductsHandler())
	r.GET("/products/:id", getProductHandler())
	r.GET("/categories", listCategoriesHandler())
	r.GET("/brands", listBrandsHandler())
	r.GET("/shops", listShopsHandler())
	r.GET("/shops/:id", getShopHandler())
	r.GET("/downloads/:token", resolveDownloadHandler())

	// authenticated
	auth := r.Group("/", middlewares.RequireSession())
	auth.POST("/auth/logout", logoutHandler())
	auth.POST("/checkout", checkoutHandler())
	auth.GET("/orders", listOrdersHandler())
	auth.GET("/orders/:id", getOrderHandler())
	auth.POST("/shops", createShopHandler())
	auth.PUT("/shops/:id", updateShopHandler())
	auth.POST("/products", createProductHandler())
	auth.PUT("/products/:id", updateProductHandler())
	auth.POST("/variants", createVariantHandler())
	auth.PUT("/variants/:id", updateVariantHandler())
	auth.POST("/stock/adjust", adjustStockHandler())
	auth.GET("/stock/movements", listStockMovementsHandler())
	auth.GET("/stock", getVariantStockHandler())
	auth.POST("/order-items/:id/download-token", issueDownloadTokenHandler())
	auth.GET("/vendor/orders", listVendorOrdersHandler())
	auth.GET("/vendor/orders/:id", getVendorOrderHandler())
	auth.POST("/vendor/orders/:id/status", updateVendorOrderStatusHandler())
	auth.GET("/wallet", getWalletHandler())
	auth.GET("/wallet/transactions", listWalletTransactionsHandler())
	auth.POST("/payouts", requestPayoutHandler())
	auth.GET("/payouts", listPayoutsHandler())
	auth.GET("/payouts/:id", getPayoutHandler())

	// admin
	admin := r.Group("/admin", middlewares.RequireSession(), middlewares.RequireAdmin())
	admin.POST("/shops/:id/approve", approveShopHandler())
	admin.POST("/shops/:id/suspend", suspendShopHandler())
	admin.POST("/products/:id/moderate", moderateProductHandler())
	admin.POST("/categories", createCategoryHandler())
	admin.PUT("/categories/:id", updateCategoryHandler())
	admin.POST("/brands", createBrandHandler())
	admin.PUT("/brands/:id", updateBrandHandler())
	admin.POST("/wallet/transactions", recordWalletTransactionHandler())
	admin.POST("/payouts/:id/transition", transitionPayoutHandler())
	admin.GET("/users", listUsersHandler())
	admin.POST("/stock/rebuild", rebuildStockCountersHandler())

	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<minAttempt(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

func minAttempt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no route for %s %s", c.Request.Method, c.Request.URL.Path)})
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	// Get the IP address or user identifier from the request.
	key := c.ClientIP() // Assuming IP-based rate limiting

	// Check if the key exists in Redis.
	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	// If the key exists, get the current count.
	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the count exceeds the limit, return an error response.
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

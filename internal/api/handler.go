package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"auction-service/internal/models"
	"auction-service/internal/service"
	"auction-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	bidService     *service.BidService
	reconciliation *service.ReconciliationService
}

// NewHandler creates a new HTTP handler
func NewHandler(bidService *service.BidService, reconciliation *service.ReconciliationService) *Handler {
	return &Handler{
		bidService:     bidService,
		reconciliation: reconciliation,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/auctions", h.createAuction)
		v1.GET("/auctions/:id", h.getAuction)
		v1.POST("/auctions/:id/bids", h.placeBid)
		v1.POST("/auctions/:id/cancel", h.cancelAuction)

		v1.POST("/moderation/rejections", h.rejectBidder)
		v1.POST("/moderation/withdrawals", h.withdrawBid)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createAuction handles the Listing collaborator's auction creation
func (h *Handler) createAuction(c *gin.Context) {
	var req service.CreateAuctionRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	auction, err := h.bidService.CreateAuction(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "Failed to create auction",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, auction)
}

// getAuction serves the read-only display snapshot
func (h *Handler) getAuction(c *gin.Context) {
	snapshot, err := h.bidService.GetAuctionSnapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, models.ErrAuctionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Auction not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load auction",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// placeBid handles bid submission
func (h *Handler) placeBid(c *gin.Context) {
	var req service.PlaceBidRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	req.AuctionID = c.Param("id")

	result, err := h.bidService.PlaceBid(c.Request.Context(), &req)
	if err != nil {
		status, code := bidFailureStatus(err)
		c.JSON(status, gin.H{
			"error":   code,
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, result)
}

// bidFailureStatus maps the bid failure taxonomy to HTTP. ConcurrentBidWon
// gets its own code so clients can tell a lost race from a static
// validation failure and re-fetch the price before retrying.
func bidFailureStatus(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrAuctionNotFound):
		return http.StatusNotFound, "auction_not_found"
	case errors.Is(err, models.ErrAuctionNotActive):
		return http.StatusConflict, "auction_not_active"
	case errors.Is(err, models.ErrBidderRejected):
		return http.StatusForbidden, "bidder_rejected"
	case errors.Is(err, models.ErrRatingTooLow):
		return http.StatusForbidden, "rating_too_low"
	case errors.Is(err, models.ErrBidTooLow):
		return http.StatusUnprocessableEntity, "bid_too_low"
	case errors.Is(err, models.ErrConcurrentBidWon):
		return http.StatusConflict, "concurrent_bid_won"
	default:
		return http.StatusInternalServerError, "bid_failed"
	}
}

// cancelAuction handles operator cancellation
func (h *Handler) cancelAuction(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	err := h.bidService.CancelAuction(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		status, code := bidFailureStatus(err)
		c.JSON(status, gin.H{
			"error":   code,
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": models.AuctionStatusCancelled})
}

type moderationRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	BidderID  string `json:"bidder_id" binding:"required"`
	Reason    string `json:"reason"`
}

// rejectBidder handles a moderation rejection
func (h *Handler) rejectBidder(c *gin.Context) {
	var req moderationRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.reconciliation.RejectBidder(c.Request.Context(), req.ProductID, req.BidderID, req.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to reject bidder",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

// withdrawBid handles a bid withdrawal
func (h *Handler) withdrawBid(c *gin.Context) {
	var req moderationRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.reconciliation.WithdrawBid(c.Request.Context(), req.ProductID, req.BidderID, req.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to withdraw bid",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "withdrawn"})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

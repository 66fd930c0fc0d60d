package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fntelecomllc/writepath/internal/auction"
	"github.com/fntelecomllc/writepath/internal/reservation"
	"github.com/fntelecomllc/writepath/internal/services"
)

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func registerReservationRoutes(rg *gin.RouterGroup, svc *services.Services) {
	g := rg.Group("/reservations")

	g.POST("", func(c *gin.Context) {
		var body struct {
			UserID     uuid.UUID `json:"userId"`
			ResourceID uuid.UUID `json:"resourceId"`
			CheckIn    time.Time `json:"checkIn"`
			CheckOut   time.Time `json:"checkOut"`
			RoomCount  int       `json:"roomCount"`
			GuestCount int       `json:"guestCount"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		r, err := svc.Reservations.CreateReservation(c.Request.Context(), reservation.CreateParams{
			UserID:     body.UserID,
			ResourceID: body.ResourceID,
			CheckIn:    body.CheckIn,
			CheckOut:   body.CheckOut,
			RoomCount:  body.RoomCount,
			GuestCount: body.GuestCount,
			ClientKey:  c.GetHeader("X-Idempotency-Key"),
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, r)
	})

	g.POST("/:id/confirm", func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad reservation id"})
			return
		}
		var body struct {
			PaymentID string `json:"paymentId"`
		}
		_ = c.ShouldBindJSON(&body)
		r, err := svc.Reservations.Confirm(c.Request.Context(), id, body.PaymentID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, r)
	})

	g.POST("/:id/cancel", func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad reservation id"})
			return
		}
		r, err := svc.Reservations.Cancel(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, r)
	})

	rg.GET("/resources/:id/availability", func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad resource id"})
			return
		}
		checkIn, ciErr := time.Parse("2006-01-02", c.Query("checkIn"))
		checkOut, coErr := time.Parse("2006-01-02", c.Query("checkOut"))
		if ciErr != nil || coErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "checkIn/checkOut must be YYYY-MM-DD"})
			return
		}
		requested, _ := strconv.Atoi(c.DefaultQuery("rooms", "1"))
		result, err := svc.Availability.Check(c.Request.Context(), svc.Querier(), id, checkIn, checkOut, requested)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})
}

func registerAuctionRoutes(rg *gin.RouterGroup, svc *services.Services) {
	g := rg.Group("/auctions/:id")

	g.POST("/bids", func(c *gin.Context) {
		auctionID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad auction id"})
			return
		}
		var body struct {
			BidderID uuid.UUID `json:"bidderId"`
			Amount   int64     `json:"amount"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := svc.Auctions.PlaceBid(c.Request.Context(), auction.PlaceBidParams{
			AuctionID: auctionID,
			BidderID:  body.BidderID,
			Amount:    body.Amount,
			ClientKey: c.GetHeader("X-Idempotency-Key"),
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, result)
	})

	g.PUT("/auto-bid", func(c *gin.Context) {
		auctionID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad auction id"})
			return
		}
		var body struct {
			BidderID  uuid.UUID `json:"bidderId"`
			MaxAmount int64     `json:"maxAmount"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := svc.Auctions.SetAutoBid(c.Request.Context(), auction.SetAutoBidParams{
			AuctionID: auctionID,
			BidderID:  body.BidderID,
			MaxAmount: body.MaxAmount,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	g.DELETE("/auto-bid", func(c *gin.Context) {
		auctionID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad auction id"})
			return
		}
		bidderID, err := uuid.Parse(c.Query("bidderId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad bidderId"})
			return
		}
		if err := svc.Auctions.CancelAutoBid(c.Request.Context(), auctionID, bidderID); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.GET("/bids", func(c *gin.Context) {
		auctionID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad auction id"})
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		bids, err := svc.Auctions.RecentBids(c.Request.Context(), auctionID, limit)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, bids)
	})
}

func registerTrendingRoutes(rg *gin.RouterGroup, svc *services.Services) {
	rg.GET("/trending/:category", func(c *gin.Context) {
		category := c.Param("category")
		snap, ok := svc.TrendingSvc.Snapshot(category)
		if !ok {
			c.JSON(http.StatusOK, gin.H{"category": category, "videos": []any{}})
			return
		}
		c.JSON(http.StatusOK, snap)
	})

	rg.POST("/videos/:id/views", func(c *gin.Context) {
		videoID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad video id"})
			return
		}
		category := c.Query("category")
		if err := svc.Trending.RecordView(c.Request.Context(), svc.Idem, videoID, category, c.GetHeader("X-Request-ID")); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusAccepted)
	})
}

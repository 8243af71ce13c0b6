package http

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/olyamironova/matching-core/internal/api/dto"
	"github.com/olyamironova/matching-core/internal/core"
	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/middleware"
	"github.com/olyamironova/matching-core/internal/port"
	"github.com/rs/zerolog"
)

// Server is the admission surface: it turns HTTP order create/cancel
// requests into unprocessed-queue events. Matching itself stays with
// the per-pair processors.
type Server struct {
	adm   *core.Admission
	repo  port.Repository
	book  port.BookStore
	snaps port.SnapshotCache
	log   zerolog.Logger
}

func NewServer(adm *core.Admission, repo port.Repository, book port.BookStore, snaps port.SnapshotCache, log zerolog.Logger) *Server {
	return &Server{adm: adm, repo: repo, book: book, snaps: snaps, log: log}
}

func (s *Server) Run(addr string) error {
	r := gin.Default()

	rl := middleware.NewRateLimiter(100 * time.Millisecond)
	r.Use(rl.Middleware())

	r.POST("/orders", s.createOrder)
	r.POST("/orders/cancel", s.cancelOrder)
	r.GET("/orderbook/top", s.topOfBook)
	r.GET("/orderbook/depth", s.depth)

	return r.Run(addr)
}

func validateOrder(req *dto.CreateOrderRequest) error {
	switch domain.Side(req.Side) {
	case domain.Buy, domain.Sell:
	default:
		return fmt.Errorf("invalid side %q", req.Side)
	}
	typ := domain.OrderType(req.Type)
	switch typ {
	case domain.Limit, domain.Market, domain.StopLimit, domain.StopMarket:
	default:
		return fmt.Errorf("invalid type %q", req.Type)
	}
	if !req.Quantity.IsPositive() {
		return fmt.Errorf("quantity must be positive")
	}
	if (typ == domain.Limit || typ == domain.StopLimit) && !req.Price.IsPositive() {
		return fmt.Errorf("limit orders need a positive price")
	}
	if req.TimeInForce != "" {
		switch domain.TimeInForce(req.TimeInForce) {
		case domain.GTC, domain.IOC, domain.FOK:
		default:
			return fmt.Errorf("invalid time in force %q", req.TimeInForce)
		}
	}
	return nil
}

func (s *Server) createOrder(c *gin.Context) {
	var req dto.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validateOrder(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// deduplication for client-supplied ids
	if req.OrderID != "" {
		if _, err := s.repo.GetOrder(c.Request.Context(), req.OrderID); err == nil {
			c.JSON(http.StatusOK, dto.CreateOrderResponse{
				OrderID: req.OrderID,
				Message: "duplicate order",
			})
			return
		}
	}

	tif := domain.TimeInForce(req.TimeInForce)
	if tif == "" {
		tif = domain.GTC
	}
	o := &domain.Order{
		ID:          req.OrderID,
		Pair:        domain.Pair{Coin: req.Coin, Currency: req.Currency},
		Side:        domain.Side(req.Side),
		Type:        domain.OrderType(req.Type),
		Price:       req.Price,
		StopPrice:   req.StopPrice,
		Quantity:    req.Quantity,
		TimeInForce: tif,
	}

	if err := s.adm.OnNewOrderCreated(c.Request.Context(), o); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.CreateOrderResponse{OrderID: o.ID, Status: string(o.Status)})
}

func (s *Server) cancelOrder(c *gin.Context) {
	var req dto.CancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	o, err := s.repo.GetOrder(c.Request.Context(), req.OrderID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err := s.adm.OnOrderCanceled(c.Request.Context(), o); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.CancelOrderResponse{OrderID: o.ID, Queued: true})
}

func (s *Server) topOfBook(c *gin.Context) {
	pair := domain.Pair{Coin: c.Query("coin"), Currency: c.Query("currency")}
	if pair.Coin == "" || pair.Currency == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "coin and currency are required"})
		return
	}

	resp := dto.TopOfBookResponse{Pair: pair.Symbol()}
	if bid, err := s.book.PeekBest(c.Request.Context(), pair, domain.BuyLimit); err == nil && bid != nil {
		resp.BestBid = formatPrice(domain.PriceFromScore(domain.Buy, bid.Score))
	}
	if ask, err := s.book.PeekBest(c.Request.Context(), pair, domain.SellLimit); err == nil && ask != nil {
		resp.BestAsk = formatPrice(domain.PriceFromScore(domain.Sell, ask.Score))
	}
	c.JSON(http.StatusOK, resp)
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// depth serves the aggregated book view, cache-first with a rebuild
// from durable storage on a miss.
func (s *Server) depth(c *gin.Context) {
	pair := domain.Pair{Coin: c.Query("coin"), Currency: c.Query("currency")}
	if pair.Coin == "" || pair.Currency == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "coin and currency are required"})
		return
	}
	snap, err := core.LoadSnapshot(c.Request.Context(), s.repo, s.snaps, pair)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/schema"

	"relayer/internal/order"
	"relayer/internal/quote"
	"relayer/internal/relayer"
	"relayer/internal/store"
)

func (s *APIServer) RegisterRoutes() http.Handler {
	router := gin.New()

	// Register routes
	router.GET("/", s.DefaultHandler)
	router.GET("/health-check", s.DefaultHandler)

	router.GET("/fusion-plus/orders/v1.0/order/active", s.GetActiveOrders)
	router.GET("/fusion-plus/orders/v1.0/order/escrow", s.GetEscrowFactory)
	router.GET("/fusion-plus/orders/v1.0/order/maker/:makerAddress", s.GetOrdersByMaker)
	router.GET("/fusion-plus/orders/v1.0/order/secrets/:orderHash", s.GetOrderSecrets)
	router.GET("/fusion-plus/orders/v1.0/order/ready-to-accept-secret-fills/:orderHash", s.GetReadyToAcceptSecretFills)
	router.GET("/fusion-plus/orders/v1.0/order/status/:orderHash", s.GetOrderStatus)
	router.POST("/fusion-plus/orders/v1.0/order/status", s.GetOrderStatuses)
	router.POST("/fusion-plus/orders/v1.0/order/cancel/:orderHash", s.CancelOrder)
	router.POST("/fusion-plus/orders/v1.0/order/complete/:orderHash", s.CompleteOrder)

	router.GET("/fusion-plus/quoter/v1.0/quote/receive", s.GetQuote)
	router.POST("/fusion-plus/quoter/v1.0/quote/receive", s.PostQuote)
	router.POST("/fusion-plus/quoter/v1.0/quote/build", s.BuildQuote)

	router.POST("/fusion-plus/relayer/v1.0/submit", s.SubmitOrder)
	router.POST("/fusion-plus/relayer/v1.0/submit/many", s.SubmitOrders)
	router.POST("/fusion-plus/relayer/v1.0/submit/fill", s.SubmitFill)
	router.POST("/fusion-plus/relayer/v1.0/submit/secret", s.SubmitSecret)
	router.POST("/fusion-plus/relayer/v1.0/auction/retry/:orderHash", s.RetryAuction)

	// Wrap the router with CORS middleware
	return s.corsMiddleware(router)
}

func (s *APIServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Set CORS headers
		w.Header().Set("Access-Control-Allow-Origin", "*") // Replace "*" with specific origins if needed
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Credentials", "false") // Set to "true" if credentials are required

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Proceed with the next handler
		next.ServeHTTP(w, r)
	})
}

var queryDecoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}()

// writeError maps domain errors onto HTTP statuses. Validation failures are the
// caller's fault, missing records are 404, everything else is the relayer's.
func (s *APIServer) writeError(c *gin.Context, err error) {
	var missing *order.MissingParameterError
	var overDeposit *order.OverDepositError
	var batch *relayer.BatchValidationError

	switch {
	case errors.As(err, &missing),
		errors.As(err, &overDeposit),
		errors.As(err, &batch),
		errors.Is(err, quote.ErrInvalidFee),
		errors.Is(err, relayer.ErrDuplicateOrder),
		errors.Is(err, order.ErrOrderClosed):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, order.ErrFillNotFound),
		errors.Is(err, relayer.ErrQuoteNotFound),
		errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrConflict):
		// A version race that survived the orchestrator's retries; the caller
		// should re-fetch and resubmit.
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *APIServer) GetQuote(c *gin.Context) {
	var req quote.Request
	if err := queryDecoder.Decode(&req, c.Request.URL.Query()); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}

	resp, err := s.relayer.Quote(req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *APIServer) PostQuote(c *gin.Context) {
	body := c.Request.Body
	defer body.Close()

	var req quote.Request
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid quote request"})
		return
	}

	resp, err := s.relayer.Quote(req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *APIServer) BuildQuote(c *gin.Context) {
	body := c.Request.Body
	defer body.Close()

	var req quote.Request
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid quote request"})
		return
	}

	resp, err := s.relayer.BuildQuote(req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *APIServer) SubmitOrder(c *gin.Context) {
	body := c.Request.Body
	defer body.Close()

	var sub relayer.OrderSubmission
	if err := json.NewDecoder(body).Decode(&sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order data"})
		s.logger.Warn().Err(err).Msg("failed to decode order data")
		return
	}

	result, err := s.relayer.CreateOrder(c.Request.Context(), sub)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (s *APIServer) SubmitOrders(c *gin.Context) {
	body := c.Request.Body
	defer body.Close()

	var payload struct {
		Orders []relayer.OrderSubmission `json:"orders"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order data"})
		return
	}

	orders, err := s.relayer.CreateOrders(c.Request.Context(), payload.Orders)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"orders": orders})
}

func (s *APIServer) SubmitFill(c *gin.Context) {
	body := c.Request.Body
	defer body.Close()

	var sub relayer.FillSubmission
	if err := json.NewDecoder(body).Decode(&sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid fill data"})
		return
	}

	fill, err := s.relayer.CreateFill(c.Request.Context(), sub)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, fill)
}

func (s *APIServer) SubmitSecret(c *gin.Context) {
	body := c.Request.Body
	defer body.Close()

	var payload struct {
		OrderHash string `json:"orderHash"`
		Secret    string `json:"secret"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid secret submission"})
		return
	}

	fills, err := s.relayer.SubmitSecret(c.Request.Context(), payload.OrderHash, payload.Secret)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"fills": fills})
}

func (s *APIServer) RetryAuction(c *gin.Context) {
	result, err := s.relayer.RetryAuctionRegistration(c.Request.Context(), c.Param("orderHash"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *APIServer) GetActiveOrders(c *gin.Context) {
	srcChain, _ := strconv.ParseInt(c.Query("srcChain"), 10, 64)
	dstChain, _ := strconv.ParseInt(c.Query("dstChain"), 10, 64)
	if srcChain == 0 || dstChain == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "srcChain and dstChain are required"})
		return
	}

	orders, err := s.relayer.ActiveOrders(c.Request.Context(), srcChain, dstChain)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *APIServer) GetEscrowFactory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"address": s.escrowFactory})
}

func (s *APIServer) GetOrdersByMaker(c *gin.Context) {
	maker := c.Param("makerAddress")
	if maker == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Maker address is required"})
		return
	}

	filter := store.MakerFilter{
		SrcToken:  c.Query("srcToken"),
		DstToken:  c.Query("dstToken"),
		WithToken: c.Query("withToken"),
	}
	if v := c.Query("timestampFrom"); v != "" {
		millis, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid timestampFrom"})
			return
		}
		ts := time.UnixMilli(millis).UTC()
		filter.TimestampFrom = &ts
	}
	if v := c.Query("timestampTo"); v != "" {
		millis, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid timestampTo"})
			return
		}
		ts := time.UnixMilli(millis).UTC()
		filter.TimestampTo = &ts
	}
	if v := c.Query("srcChainId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid srcChainId"})
			return
		}
		filter.SrcChainID = &id
	}
	if v := c.Query("dstChainId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid dstChainId"})
			return
		}
		filter.DstChainID = &id
	}

	orders, err := s.relayer.OrdersByMaker(c.Request.Context(), maker, filter)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *APIServer) GetOrderSecrets(c *gin.Context) {
	o, fills, err := s.relayer.SecretsData(c.Request.Context(), c.Param("orderHash"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": o, "fills": fills})
}

func (s *APIServer) GetReadyToAcceptSecretFills(c *gin.Context) {
	fills, err := s.relayer.ReadyFills(c.Request.Context(), c.Param("orderHash"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"fills": fills})
}

func (s *APIServer) GetOrderStatus(c *gin.Context) {
	orderHash := c.Param("orderHash")
	if orderHash == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Order hash is required"})
		return
	}

	status, err := s.relayer.OrderStatus(c.Request.Context(), orderHash)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"orderHash": orderHash, "status": status})
}

func (s *APIServer) GetOrderStatuses(c *gin.Context) {
	body := c.Request.Body
	defer body.Close()

	var payload struct {
		OrderHashes []string `json:"orderHashes"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status request"})
		return
	}
	if len(payload.OrderHashes) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "orderHashes is required"})
		return
	}

	orders, err := s.relayer.OrderStatuses(c.Request.Context(), payload.OrderHashes)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *APIServer) CancelOrder(c *gin.Context) {
	o, err := s.relayer.CancelOrder(c.Request.Context(), c.Param("orderHash"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, o)
}

func (s *APIServer) CompleteOrder(c *gin.Context) {
	body := c.Request.Body
	defer body.Close()

	var payload struct {
		TxDigest string `json:"txDigest"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid completion request"})
		return
	}

	o, err := s.relayer.CompleteOrder(c.Request.Context(), c.Param("orderHash"), payload.TxDigest)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, o)
}

func (s *APIServer) DefaultHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

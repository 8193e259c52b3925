package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-fulfillment-tracker/internal/idempotency"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/orders"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/tracker"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/validation"
)

// IdempotencyStore dedupes create requests by Idempotency-Key.
type IdempotencyStore interface {
	Begin(ctx context.Context, key, requestHash string) (*idempotency.IdempotencyRecord, bool, error)
	MarkDone(ctx context.Context, key, orderID, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
}

var _ IdempotencyStore = (*idempotency.Store)(nil)

// HandlerConfig groups dependencies for the orders handler.
type HandlerConfig struct {
	Tracker *tracker.Tracker
	// Idempotency may be nil, in which case the key is required but not deduped.
	Idempotency    IdempotencyStore
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

type ordersHandler struct {
	cfg HandlerConfig
	log *slog.Logger
}

// RegisterOrdersRoutes registers routes for order API.
func RegisterOrdersRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	h := &ordersHandler{cfg: cfg, log: cfg.Logger}
	if h.log == nil {
		h.log = slog.Default()
	}

	r.POST("/orders", func(c *gin.Context) {
		var req validation.CreateOrderRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}
		h.create(c, req)
	})

	r.GET("/orders", func(c *gin.Context) {
		var q validation.ListOrdersQuery
		if err := validation.BindQueryAndValidate(c, &q, v); err != nil {
			return
		}
		ctx, cancel := h.requestContext(c)
		defer cancel()
		f, s, p := q.ToQuery()
		res, err := h.cfg.Tracker.Query(ctx, f, s, p)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	r.GET("/orders/:id", func(c *gin.Context) {
		ctx, cancel := h.requestContext(c)
		defer cancel()
		o, err := h.cfg.Tracker.Get(ctx, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	})

	r.GET("/orders/:id/history", func(c *gin.Context) {
		ctx, cancel := h.requestContext(c)
		defer cancel()
		hist, err := h.cfg.Tracker.History(ctx, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"order_id": c.Param("id"), "transitions": hist})
	})

	r.POST("/orders/:id/transitions", func(c *gin.Context) {
		var req validation.TransitionRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		ctx, cancel := h.requestContext(c)
		defer cancel()
		o, err := h.cfg.Tracker.Transition(ctx, c.Param("id"), req.Target(), req.Actor)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	})

	r.PUT("/orders/:id/items", func(c *gin.Context) {
		var req validation.ReplaceItemsRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		ctx, cancel := h.requestContext(c)
		defer cancel()
		o, err := h.cfg.Tracker.ReplaceLineItems(ctx, c.Param("id"), req.Items(), req.Actor)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	})

	r.GET("/metrics/snapshot", func(c *gin.Context) {
		c.JSON(http.StatusOK, h.cfg.Tracker.Metrics())
	})
}

func (h *ordersHandler) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.cfg.RequestTimeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), h.cfg.RequestTimeout)
}

func (h *ordersHandler) create(c *gin.Context, req validation.CreateOrderRequest) {
	// Require idempotency key header
	idempKey := c.GetHeader("Idempotency-Key")
	if idempKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_idempotency_key"})
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	if h.cfg.Idempotency != nil {
		rec, created, err := h.cfg.Idempotency.Begin(ctx, idempKey, requestHash(req))
		if err != nil {
			h.log.ErrorContext(ctx, "idempotency check failed", "idempotency_key", idempKey, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "idempotency_check_failed", "detail": err.Error()})
			return
		}
		if !created {
			replay(c, rec, requestHash(req))
			return
		}
	}

	actor := req.Actor
	if actor == "" {
		actor = "api"
	}
	o, err := h.cfg.Tracker.Create(ctx, req.ToNewOrder(), actor)
	if err != nil {
		if h.cfg.Idempotency != nil {
			// release the key so the client can retry
			if mErr := h.cfg.Idempotency.MarkFailed(context.WithoutCancel(ctx), idempKey, err.Error()); mErr != nil {
				h.log.WarnContext(ctx, "mark idempotency failed", "idempotency_key", idempKey, "error", mErr)
			}
		}
		writeError(c, err)
		return
	}

	body, err := json.Marshal(o)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encode_failed", "detail": err.Error()})
		return
	}
	if h.cfg.Idempotency != nil {
		if err := h.cfg.Idempotency.MarkDone(context.WithoutCancel(ctx), idempKey, o.ID, string(body), http.StatusCreated); err != nil {
			// the order exists; a retry will see IN_PROGRESS instead of the stored response
			h.log.WarnContext(ctx, "mark idempotency done", "idempotency_key", idempKey, "order_id", o.ID, "error", err)
		}
	}

	c.Header("Location", fmt.Sprintf("/orders/%s", o.ID))
	c.Data(http.StatusCreated, "application/json; charset=utf-8", body)
}

// replay answers a request whose key was already used.
func replay(c *gin.Context, rec *idempotency.IdempotencyRecord, hash string) {
	if rec.RequestHash != "" && rec.RequestHash != hash {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "idempotency_key_reused"})
		return
	}
	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" {
			c.Header("Idempotent-Replayed", "true")
			c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
			return
		}
		c.JSON(http.StatusOK, gin.H{"order_id": rec.OrderID})
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown_idempotency_status"})
	}
}

func requestHash(req validation.CreateOrderRequest) string {
	b, _ := json.Marshal(req)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// writeError maps tracker errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, orders.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, orders.ErrIllegalTransition):
		status, code = http.StatusConflict, "illegal_transition"
	case errors.Is(err, orders.ErrTimeout):
		status, code = http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, orders.ErrConcurrentModification):
		status, code = http.StatusConflict, "concurrent_modification"
	case errors.Is(err, orders.ErrStorage):
		status, code = http.StatusServiceUnavailable, "storage_unavailable"
	case errors.Is(err, orders.ErrLineItemsFrozen):
		status, code = http.StatusConflict, "line_items_frozen"
	case errors.Is(err, orders.ErrInvalidOrder):
		status, code = http.StatusBadRequest, "invalid_order"
	}
	if orders.Retryable(err) {
		c.Header("Retry-After", "1")
	}

	body := gin.H{"error": code, "detail": err.Error()}
	var te *orders.TransitionError
	if errors.As(err, &te) {
		body["from"] = te.From
		body["to"] = te.To
		if te.From != "" {
			body["allowed"] = te.From.AllowedNext()
		}
	}
	c.JSON(status, body)
}

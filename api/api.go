// Package api exposes the engine over HTTP: the authenticated gateway
// webhook, read-only order and customer status, and operator endpoints.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/redeem"
	"github.com/xraph/redeem/gateway"
	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/order"
)

// DefaultMaxBodyBytes bounds webhook and admin request bodies.
const DefaultMaxBodyBytes = 1 << 20

// Handler serves the redeem HTTP surface.
type Handler struct {
	engine     *redeem.Engine
	verifier   *gateway.Verifier
	logger     *slog.Logger
	adminToken string
	maxBody    int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithAdminToken requires "Authorization: Bearer <token>" on /admin routes.
// Without it the admin routes are not mounted.
func WithAdminToken(token string) Option {
	return func(h *Handler) { h.adminToken = token }
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// New creates a Handler. Webhooks are rejected unless verifier holds a
// non-empty secret.
func New(engine *redeem.Engine, verifier *gateway.Verifier, opts ...Option) *Handler {
	h := &Handler{
		engine:   engine,
		verifier: verifier,
		logger:   slog.Default(),
		maxBody:  DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the router. Mount it under any prefix.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/webhooks/payments", h.handleWebhook)
	r.Get("/orders/{orderID}", h.handleGetOrder)
	r.Get("/customers/{customerID}", h.handleCustomerStatus)

	if h.adminToken != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(h.requireAdmin)

			r.Get("/orders", h.handleListOrders)
			r.Post("/orders/{orderID}/approve", h.handleApprove)
			r.Post("/orders/{orderID}/cancel", h.handleCancelOrder)
			r.Post("/orders/{orderID}/retry", h.handleRetry)
			r.Post("/orders/{orderID}/resolve-activation", h.handleResolveActivation)

			r.Post("/customers/{customerID}/clear-credit", h.handleClearCredit)
			r.Post("/customers/{customerID}/compensate", h.handleCompensate)
			r.Post("/customers/{customerID}/unsilence", h.handleUnsilence)
			r.Post("/customers/{customerID}/resolve", h.handleResolve)
		})
	}
	return r
}

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Code: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ──────────────────────────────────────────────────
// Webhook
// ──────────────────────────────────────────────────

type outcomeBody struct {
	Outcome string `json:"outcome"`
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "body too large", Code: "invalid_input"})
		return
	}
	if err := h.verifier.Verify(body, r.Header.Get(gateway.SignatureHeader)); err != nil {
		h.logger.Warn("webhook rejected",
			"remote_addr", r.RemoteAddr,
			"error", err,
		)
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error(), Code: "invalid_signature"})
		return
	}

	ev, err := gateway.ParseEvent(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "invalid_input"})
		return
	}

	outcome, err := h.engine.HandleWebhook(r.Context(), ev)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeBody{Outcome: outcome.String()})
}

// ──────────────────────────────────────────────────
// Status
// ──────────────────────────────────────────────────

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderParam(w, r)
	if !ok {
		return
	}
	o, err := h.engine.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) handleCustomerStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.CustomerStatus(r.Context(), chi.URLParam(r, "customerID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := order.Status(q.Get("status"))
	if status != "" && !status.IsValid() {
		h.writeError(w, r, redeem.ValidationError{Field: "status", Message: "unknown order status " + string(status)})
		return
	}
	opts := order.ListOpts{
		CustomerID:  q.Get("customer_id"),
		Status:      status,
		NeedsReview: q.Get("needs_review") == "true",
		Limit:       100,
	}
	orders, err := h.engine.ListOrders(r.Context(), opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []*order.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// ──────────────────────────────────────────────────
// Admin: orders
// ──────────────────────────────────────────────────

type reasonRequest struct {
	Reason string `json:"reason"`
}

type retryRequest struct {
	ProductID string `json:"product_id"`
}

type resolveActivationRequest struct {
	Succeeded bool   `json:"succeeded"`
	Detail    string `json:"detail"`
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderParam(w, r)
	if !ok {
		return
	}
	outcome, err := h.engine.ApproveOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeBody{Outcome: outcome.String()})
}

func (h *Handler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderParam(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "cancelled by operator"
	}
	if err := h.engine.CancelOrder(r.Context(), orderID, req.Reason); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderParam(w, r)
	if !ok {
		return
	}
	var req retryRequest
	if !h.decode(w, r, &req) {
		return
	}
	productID := id.Nil
	if req.ProductID != "" {
		pid, err := id.ParseProductID(req.ProductID)
		if err != nil {
			h.writeError(w, r, redeem.ValidationError{Field: "product_id", Message: err.Error()})
			return
		}
		productID = pid
	}
	o, err := h.engine.RetryActivation(r.Context(), orderID, productID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, o)
}

func (h *Handler) handleResolveActivation(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderParam(w, r)
	if !ok {
		return
	}
	var req resolveActivationRequest
	if !h.decode(w, r, &req) {
		return
	}
	o, err := h.engine.ResolveActivation(r.Context(), orderID, req.Succeeded, req.Detail)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ──────────────────────────────────────────────────
// Admin: customers
// ──────────────────────────────────────────────────

func (h *Handler) handleClearCredit(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.customerOp(w, r, func(customerID string) error {
		return h.engine.ClearCredit(r.Context(), customerID, req.Reason)
	})
}

func (h *Handler) handleCompensate(w http.ResponseWriter, r *http.Request) {
	h.customerOp(w, r, func(customerID string) error {
		return h.engine.Compensate(r.Context(), customerID)
	})
}

func (h *Handler) handleUnsilence(w http.ResponseWriter, r *http.Request) {
	h.customerOp(w, r, func(customerID string) error {
		return h.engine.Unsilence(r.Context(), customerID)
	})
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	h.customerOp(w, r, func(customerID string) error {
		return h.engine.ResolveReview(r.Context(), customerID)
	})
}

func (h *Handler) customerOp(w http.ResponseWriter, r *http.Request, op func(customerID string) error) {
	if err := op(chi.URLParam(r, "customerID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (h *Handler) orderParam(w http.ResponseWriter, r *http.Request) (id.OrderID, bool) {
	orderID, err := id.ParseOrderID(chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, r, redeem.ValidationError{Field: "order_id", Message: err.Error()})
		return id.Nil, false
	}
	return orderID, true
}

// decode reads an optional JSON body into dst.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	h.writeError(w, r, redeem.ValidationError{Field: "body", Message: err.Error()})
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

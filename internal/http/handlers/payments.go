package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/annavaram/storefront/internal/middleware"
	"github.com/annavaram/storefront/internal/payment"
	"github.com/google/uuid"
)

const (
	webhookSignatureHeader = "X-Razorpay-Signature"
	webhookEventIDHeader   = "X-Razorpay-Event-Id"
)

// PaymentHandler handles checkout confirmation and gateway webhooks
type PaymentHandler struct {
	reconciler *payment.Reconciler
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(reconciler *payment.Reconciler) *PaymentHandler {
	return &PaymentHandler{reconciler: reconciler}
}

// verifyRequest is what the checkout widget returns after a successful payment
type verifyRequest struct {
	OrderID           string `json:"order_id"`
	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`
}

type verifyResponse struct {
	Message string           `json:"message"`
	Order   orderResponse    `json:"order"`
	Payment *paymentResponse `json:"payment"`
}

// HandleVerify handles POST /payments/verify
func (h *PaymentHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var req verifyRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "order_id must be a valid id")
		return
	}

	res, err := h.reconciler.Verify(r.Context(), userID, payment.VerifyInput{
		OrderID:        orderID,
		PaymentID:      req.RazorpayPaymentID,
		Signature:      req.RazorpaySignature,
		GatewayOrderID: req.RazorpayOrderID,
		Payload:        json.RawMessage(raw),
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}

	msg := "payment verified"
	if res.AlreadyCaptured {
		msg = "payment already verified"
	}
	respondJSON(w, http.StatusOK, verifyResponse{
		Message: msg,
		Order:   newOrderResponse(res.Order),
		Payment: newPaymentResponse(res.Payment),
	})
}

// HandleWebhook handles POST /payments/webhook. The signature covers the raw
// body, so it is read before any decoding.
func (h *PaymentHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(http.MaxBytesReader(w, r.Body, maxBodyBytes)); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.reconciler.HandleWebhook(r.Context(), buf.Bytes(),
		r.Header.Get(webhookSignatureHeader), r.Header.Get(webhookEventIDHeader))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": res.Status, "event": res.Event})
}

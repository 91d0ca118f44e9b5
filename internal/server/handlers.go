package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tournevent/shipflow/pkg/shipper"
)

type errorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode,omitempty"`
	Retryable bool   `json:"retryable"`
}

type retryResponse struct {
	Success        bool   `json:"success"`
	ShipmentID     string `json:"shipmentId"`
	TrackingNumber string `json:"trackingNumber"`
	LabelURL       string `json:"labelUrl"`
}

type webhookResponse struct {
	Received  bool   `json:"received"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Error     string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	orderID := chi.URLParam(r, "orderId")

	res := s.shipping.RetryOrder(r.Context(), id.TenantID, orderID, id.UserID)
	if !res.Success {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:     res.Error,
			ErrorCode: res.ErrorCode,
			Retryable: res.Retryable,
		})
		return
	}
	writeJSON(w, http.StatusOK, retryResponse{
		Success:        true,
		ShipmentID:     res.ShipmentID,
		TrackingNumber: res.TrackingNumber,
		LabelURL:       res.LabelURL,
	})
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	orderID := chi.URLParam(r, "orderId")

	info, err := s.shipping.TrackOrder(r.Context(), id.TenantID, orderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	orderID := chi.URLParam(r, "orderId")

	if err := s.shipping.CancelOrder(r.Context(), id.TenantID, orderID, id.UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// handleWebhook acknowledges every callback for a known webhook-capable
// provider with 200, whatever happens during processing. Carriers disable
// or retry-storm endpoints that answer otherwise.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "provider")
	log := s.logger.Ctx(r.Context()).WithOptions(zap.Fields(zap.String("provider", slug)))

	if _, _, err := s.webhooks.Resolve(slug); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, shipper.ErrProviderNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		msg := "unreadable body"
		if errors.As(err, &tooLarge) {
			msg = "payload too large"
		}
		log.Warn("Discarding webhook body", zap.Error(err))
		writeJSON(w, http.StatusOK, webhookResponse{Received: true, Error: msg})
		return
	}

	ack, err := s.webhooks.Handle(r.Context(), slug, body, r.Header)
	if err != nil {
		log.Error("Webhook handling failed", zap.Error(err))
		writeJSON(w, http.StatusOK, webhookResponse{Received: true, Error: "processing failed"})
		return
	}
	writeJSON(w, http.StatusOK, webhookResponse{Received: true, Duplicate: ack.Duplicate})
}

// writeError maps shipping errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Error: err.Error()}
	status := http.StatusBadGateway

	var shipperErr *shipper.ShipperError
	switch {
	case errors.Is(err, shipper.ErrOrderNotFound):
		status = http.StatusNotFound
		resp.ErrorCode = shipper.CodeOrderNotFound
	case errors.Is(err, shipper.ErrShipmentInProgress):
		status = http.StatusConflict
		resp.ErrorCode = shipper.CodeShipmentInProgress
		resp.Retryable = true
	case errors.Is(err, shipper.ErrNoLiveShipment):
		status = http.StatusConflict
	case errors.Is(err, shipper.ErrNoProviderBound):
		status = http.StatusBadRequest
		resp.ErrorCode = shipper.CodeNoProviderBound
	case errors.Is(err, shipper.ErrFeatureNotSupported):
		status = http.StatusBadRequest
		resp.ErrorCode = shipper.CodeFeatureNotSupported
	case errors.Is(err, shipper.ErrProviderNotFound):
		status = http.StatusBadRequest
		resp.ErrorCode = shipper.CodeProviderNotFound
	case errors.Is(err, shipper.ErrNoIntegration):
		status = http.StatusBadRequest
		resp.ErrorCode = shipper.CodeNoIntegration
	case errors.As(err, &shipperErr):
		resp.ErrorCode = shipperErr.Code
		resp.Retryable = shipperErr.Retryable
	default:
		res := shipper.ResultFromError(err)
		resp.ErrorCode = res.ErrorCode
		resp.Retryable = res.Retryable
	}

	if status >= http.StatusInternalServerError {
		s.logger.Ctx(r.Context()).Warn("Carrier call failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, resp)
}

package freightcom

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MockAPIClient is a mock implementation of APIClient for testing.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnCreateShipment func(ctx context.Context, req *ShipmentRequest) (*ShipmentResponse, error)
	OnCancelShipment func(ctx context.Context, shipmentID string) (*CancelResponse, error)
	OnGetTracking    func(ctx context.Context, shipmentID string) (*TrackingResponse, error)
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{}
}

func (m *MockAPIClient) simulate(ctx context.Context) error {
	if m.SimulateLatency > 0 {
		select {
		case <-time.After(m.SimulateLatency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.SimulateErrors {
		return &APIError{StatusCode: http.StatusServiceUnavailable, Code: "MOCK_ERROR", Message: "Simulated API error"}
	}
	return nil
}

// CreateShipment creates a mock shipment.
func (m *MockAPIClient) CreateShipment(ctx context.Context, req *ShipmentRequest) (*ShipmentResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}

	if m.OnCreateShipment != nil {
		return m.OnCreateShipment(ctx, req)
	}

	suffix := strings.ReplaceAll(uuid.NewString()[:8], "-", "")
	shipmentID := "fc-ship-" + suffix
	trackingNumber := fmt.Sprintf("%d", 100000000000+time.Now().UnixNano()%900000000000)

	return &ShipmentResponse{
		ID:              shipmentID,
		UniqueID:        req.UniqueID,
		Status:          "booked",
		TrackingNumbers: []string{trackingNumber},
		TrackingURL:     fmt.Sprintf("https://www.fedex.com/fedextrack/?trknbr=%s", trackingNumber),
		CarrierCode:     "fedex",
		ServiceName:     "FedEx Ground",
		Labels: []Label{
			{
				Size:   "4x6",
				Format: "pdf",
				URL:    fmt.Sprintf("https://api.freightcom.com/shipment/%s/label.pdf", shipmentID),
			},
		},
	}, nil
}

// CancelShipment cancels a mock shipment.
func (m *MockAPIClient) CancelShipment(ctx context.Context, shipmentID string) (*CancelResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}

	if m.OnCancelShipment != nil {
		return m.OnCancelShipment(ctx, shipmentID)
	}

	return &CancelResponse{ShipmentID: shipmentID, Status: "cancelled"}, nil
}

// GetTracking retrieves mock tracking information.
func (m *MockAPIClient) GetTracking(ctx context.Context, shipmentID string) (*TrackingResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}

	if m.OnGetTracking != nil {
		return m.OnGetTracking(ctx, shipmentID)
	}

	now := time.Now()
	return &TrackingResponse{
		ShipmentID:     shipmentID,
		TrackingNumber: "123456789012",
		Status:         "in_transit",
		Events: []TrackingEvent{
			{
				Timestamp:   now.Add(-48 * time.Hour).Format(time.RFC3339),
				Description: "Shipment picked up",
				Location:    "Toronto, ON",
				Status:      "picked_up",
				Code:        "PU",
			},
			{
				Timestamp:   now.Add(-24 * time.Hour).Format(time.RFC3339),
				Description: "In transit to destination",
				Location:    "Mississauga, ON",
				Status:      "in_transit",
				Code:        "IT",
			},
		},
	}, nil
}

var _ APIClient = (*MockAPIClient)(nil)

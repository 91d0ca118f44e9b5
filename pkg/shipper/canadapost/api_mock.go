package canadapost

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// MockAPIClient is a mock implementation of APIClient for testing.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnCreateShipment func(ctx context.Context, req *ShipmentRequest) (*ShipmentResponse, error)
	OnVoidShipment   func(ctx context.Context, shipmentID string) (*VoidResponse, error)
	OnGetTracking    func(ctx context.Context, trackingPIN string) (*TrackingResponse, error)
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
		return &APIError{StatusCode: http.StatusInternalServerError, Code: "MOCK_ERROR", Description: "Simulated API error"}
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

	shipmentID := "cp-" + uuid.New().String()[:12]
	pin := fmt.Sprintf("%016d", time.Now().UnixNano()%10000000000000000)

	return &ShipmentResponse{
		ShipmentID:     shipmentID,
		TrackingPIN:    pin,
		ShipmentStatus: "created",
		Links: []Link{
			{
				Rel:       "label",
				Href:      fmt.Sprintf("https://ct.soa-gw.canadapost.ca/ers/artifact/%s/label", shipmentID),
				MediaType: "application/pdf",
			},
		},
	}, nil
}

// VoidShipment voids a mock shipment.
func (m *MockAPIClient) VoidShipment(ctx context.Context, shipmentID string) (*VoidResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}

	if m.OnVoidShipment != nil {
		return m.OnVoidShipment(ctx, shipmentID)
	}

	return &VoidResponse{ShipmentID: shipmentID, Status: "voided"}, nil
}

// GetTracking retrieves mock tracking information.
func (m *MockAPIClient) GetTracking(ctx context.Context, trackingPIN string) (*TrackingResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}

	if m.OnGetTracking != nil {
		return m.OnGetTracking(ctx, trackingPIN)
	}

	return &TrackingResponse{
		TrackingPIN: trackingPIN,
		Status:      "IN_TRANSIT",
		Events: []TrackingEvent{
			{
				Timestamp:   time.Now().Add(-12 * time.Hour).Format(time.RFC3339),
				Description: "Item processed",
				Location:    "MISSISSAUGA",
				Type:        "IN_TRANSIT",
			},
		},
	}, nil
}

var _ APIClient = (*MockAPIClient)(nil)

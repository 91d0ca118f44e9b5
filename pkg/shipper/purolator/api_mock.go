package purolator

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// MockAPIClient is a mock implementation of APIClient for testing.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnCreateShipment func(ctx context.Context, req *ShipmentRequest) (*ShipmentResponse, error)
	OnVoidShipment   func(ctx context.Context, shipmentPIN string) (*VoidResponse, error)
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
		return &APIError{StatusCode: http.StatusServiceUnavailable, Code: "soap:Server", Description: "Simulated API error", Fault: true}
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

	pin := fmt.Sprintf("329%09d", time.Now().UnixNano()%1000000000)
	pieces := make([]string, 0, req.PackageInformation.TotalPieces)
	for i := 0; i < req.PackageInformation.TotalPieces; i++ {
		pieces = append(pieces, fmt.Sprintf("%s%02d", pin, i+1))
	}

	return &ShipmentResponse{
		ShipmentPIN:          pin,
		PiecePINs:            pieces,
		ExpectedDeliveryDate: time.Now().AddDate(0, 0, 3).Format("2006-01-02"),
		DocumentLinks: []DocumentLink{
			{Type: "Label", URL: fmt.Sprintf("https://eshiponline.purolator.com/label/%s.pdf", pin)},
		},
	}, nil
}

// VoidShipment voids a mock shipment.
func (m *MockAPIClient) VoidShipment(ctx context.Context, shipmentPIN string) (*VoidResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}

	if m.OnVoidShipment != nil {
		return m.OnVoidShipment(ctx, shipmentPIN)
	}

	return &VoidResponse{ShipmentPIN: shipmentPIN, Voided: true}, nil
}

// GetTracking retrieves mock tracking information.
func (m *MockAPIClient) GetTracking(ctx context.Context, trackingPIN string) (*TrackingResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}

	if m.OnGetTracking != nil {
		return m.OnGetTracking(ctx, trackingPIN)
	}

	now := time.Now()
	return &TrackingResponse{
		TrackingPIN: trackingPIN,
		Status:      "OutForDelivery",
		Events: []TrackingEvent{
			{
				Timestamp:   now.Format("2006-01-02T15:04:05"),
				Description: "On vehicle for delivery",
				Location:    "Vancouver, BC",
				Type:        "OutForDelivery",
			},
			{
				Timestamp:   now.Add(-20 * time.Hour).Format("2006-01-02T15:04:05"),
				Description: "Picked up",
				Location:    "Toronto, ON",
				Type:        "PickedUp",
			},
		},
	}, nil
}

var _ APIClient = (*MockAPIClient)(nil)

package canadapost

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPAPIClient is the production implementation of APIClient using HTTP/XML.
type HTTPAPIClient struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	accountID  string
	httpClient *http.Client
}

// HTTPAPIClientConfig holds configuration for the HTTP client.
type HTTPAPIClientConfig struct {
	BaseURL    string
	APIKey     string
	APISecret  string // Password for Basic Auth
	AccountID  string // Customer number
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewHTTPAPIClient creates a new HTTP-based API client for production use.
func NewHTTPAPIClient(cfg HTTPAPIClientConfig) *HTTPAPIClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &HTTPAPIClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		accountID:  cfg.AccountID,
		httpClient: httpClient,
	}
}

// ============================================================================
// XML Request/Response structures for Canada Post API
// ============================================================================

type shipmentInfo struct {
	XMLName            xml.Name     `xml:"shipment"`
	Xmlns              string       `xml:"xmlns,attr"`
	GroupID            string       `xml:"group-id,omitempty"`
	CpcPickupIndicator bool         `xml:"cpc-pickup-indicator"`
	DeliverySpec       deliverySpec `xml:"delivery-spec"`
}

type deliverySpec struct {
	ServiceCode      string                `xml:"service-code"`
	Sender           xmlSenderInfo         `xml:"sender"`
	Destination      xmlDestinationInfo    `xml:"destination"`
	ParcelCharacter  parcelCharacteristics `xml:"parcel-characteristics"`
	PrintPreferences printPreferences      `xml:"print-preferences"`
	References       xmlReferences         `xml:"references"`
}

type parcelCharacteristics struct {
	Weight     float64        `xml:"weight"`
	Dimensions *xmlDimensions `xml:"dimensions,omitempty"`
}

type xmlDimensions struct {
	Length float64 `xml:"length"`
	Width  float64 `xml:"width"`
	Height float64 `xml:"height"`
}

type xmlSenderInfo struct {
	Name           string            `xml:"name"`
	Company        string            `xml:"company,omitempty"`
	ContactPhone   string            `xml:"contact-phone"`
	AddressDetails xmlAddressDetails `xml:"address-details"`
}

type xmlDestinationInfo struct {
	Name           string            `xml:"name"`
	Company        string            `xml:"company,omitempty"`
	AddressDetails xmlAddressDetails `xml:"address-details"`
}

type xmlAddressDetails struct {
	AddressLine1  string `xml:"address-line-1"`
	AddressLine2  string `xml:"address-line-2,omitempty"`
	City          string `xml:"city"`
	ProvState     string `xml:"prov-state"`
	PostalZipCode string `xml:"postal-zip-code"`
	CountryCode   string `xml:"country-code"`
}

type printPreferences struct {
	OutputFormat string `xml:"output-format"` // "4x6", "8.5x11"
	Encoding     string `xml:"encoding"`      // "PDF", "ZPL"
}

type xmlReferences struct {
	CustomerRef1 string `xml:"customer-ref-1,omitempty"`
	CustomerRef2 string `xml:"customer-ref-2,omitempty"`
}

// shipmentInfoResponse is the XML response for shipment creation
type shipmentInfoResponse struct {
	XMLName        xml.Name `xml:"shipment-info"`
	ShipmentID     string   `xml:"shipment-id"`
	ShipmentStatus string   `xml:"shipment-status"`
	TrackingPIN    string   `xml:"tracking-pin"`
	Links          xmlLinks `xml:"links"`
}

type xmlLinks struct {
	Link []xmlLink `xml:"link"`
}

type xmlLink struct {
	Rel       string `xml:"rel,attr"`
	Href      string `xml:"href,attr"`
	MediaType string `xml:"media-type,attr"`
}

// trackingSummary is the XML response for tracking
type trackingSummary struct {
	XMLName    xml.Name   `xml:"tracking-summary"`
	PINSummary pinSummary `xml:"pin-summary"`
}

type pinSummary struct {
	PIN              string `xml:"pin"`
	EventDescription string `xml:"event-description"`
	EventDateTime    string `xml:"event-date-time"`
	EventType        string `xml:"event-type"`
	EventLocation    string `xml:"event-location"`
}

// messages is the XML error response structure
type messages struct {
	XMLName xml.Name  `xml:"messages"`
	Message []message `xml:"message"`
}

type message struct {
	Code        string `xml:"code"`
	Description string `xml:"description"`
}

// ============================================================================
// API Implementation
// ============================================================================

// CreateShipment creates a new shipment via the Canada Post API.
func (c *HTTPAPIClient) CreateShipment(ctx context.Context, req *ShipmentRequest) (*ShipmentResponse, error) {
	shipment := shipmentInfo{
		Xmlns:              "http://www.canadapost.ca/ws/shipment-v8",
		GroupID:            req.GroupID,
		CpcPickupIndicator: true,
		DeliverySpec: deliverySpec{
			ServiceCode: req.ServiceCode,
			Sender: xmlSenderInfo{
				Name:           req.Sender.Name,
				Company:        req.Sender.Company,
				ContactPhone:   req.Sender.Phone,
				AddressDetails: toXMLAddress(req.Sender),
			},
			Destination: xmlDestinationInfo{
				Name:           req.Destination.Name,
				Company:        req.Destination.Company,
				AddressDetails: toXMLAddress(req.Destination),
			},
			ParcelCharacter: parcelCharacteristics{
				Weight: req.ParcelWeight,
			},
			PrintPreferences: printPreferences{
				OutputFormat: "4x6",
				Encoding:     "PDF",
			},
			References: xmlReferences{
				CustomerRef1: req.CustomerRef,
				CustomerRef2: req.IdempotencyKey,
			},
		},
	}

	if req.Dimensions.Length > 0 {
		shipment.DeliverySpec.ParcelCharacter.Dimensions = &xmlDimensions{
			Length: req.Dimensions.Length,
			Width:  req.Dimensions.Width,
			Height: req.Dimensions.Height,
		}
	}

	xmlBody, err := xml.Marshal(shipment)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	path := fmt.Sprintf("/rs/%s/%s/shipment", c.accountID, req.GroupID)
	resp, err := c.doRequest(ctx, http.MethodPost, path, "application/vnd.cpc.shipment-v8+xml", xmlBody)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, c.parseError(resp)
	}

	var shipmentResp shipmentInfoResponse
	if err := xml.NewDecoder(resp.Body).Decode(&shipmentResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	links := make([]Link, len(shipmentResp.Links.Link))
	for i, l := range shipmentResp.Links.Link {
		links[i] = Link(l)
	}

	return &ShipmentResponse{
		ShipmentID:     shipmentResp.ShipmentID,
		TrackingPIN:    shipmentResp.TrackingPIN,
		ShipmentStatus: shipmentResp.ShipmentStatus,
		Links:          links,
	}, nil
}

// VoidShipment voids a shipment via the Canada Post API.
func (c *HTTPAPIClient) VoidShipment(ctx context.Context, shipmentID string) (*VoidResponse, error) {
	path := fmt.Sprintf("/rs/%s/shipment/%s", c.accountID, shipmentID)
	resp, err := c.doRequest(ctx, http.MethodDelete, path, "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return nil, c.parseError(resp)
	}

	return &VoidResponse{
		ShipmentID: shipmentID,
		Status:     "voided",
	}, nil
}

// GetTracking retrieves tracking information from the Canada Post API.
func (c *HTTPAPIClient) GetTracking(ctx context.Context, trackingPIN string) (*TrackingResponse, error) {
	path := fmt.Sprintf("/vis/track/pin/%s/summary", trackingPIN)
	resp, err := c.doRequest(ctx, http.MethodGet, path, "application/vnd.cpc.track-v2+xml", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var summary trackingSummary
	if err := xml.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &TrackingResponse{
		TrackingPIN: summary.PINSummary.PIN,
		Status:      summary.PINSummary.EventType,
		Events: []TrackingEvent{
			{
				Timestamp:   summary.PINSummary.EventDateTime,
				Description: summary.PINSummary.EventDescription,
				Location:    summary.PINSummary.EventLocation,
				Type:        summary.PINSummary.EventType,
			},
		},
	}, nil
}

// ============================================================================
// HTTP Helpers
// ============================================================================

func (c *HTTPAPIClient) doRequest(ctx context.Context, method, path, mediaType string, body []byte) (*http.Response, error) {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Canada Post uses Basic Auth with API key:secret
	auth := base64.StdEncoding.EncodeToString([]byte(c.apiKey + ":" + c.apiSecret))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Accept-Language", "en-CA")

	if body != nil && mediaType != "" {
		req.Header.Set("Content-Type", mediaType)
	}
	if mediaType != "" {
		req.Header.Set("Accept", mediaType)
	}

	return c.httpClient.Do(req)
}

func (c *HTTPAPIClient) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var msgs messages
	if err := xml.Unmarshal(body, &msgs); err == nil && len(msgs.Message) > 0 {
		return &APIError{
			StatusCode:  resp.StatusCode,
			Code:        msgs.Message[0].Code,
			Description: msgs.Message[0].Description,
		}
	}

	return &APIError{
		StatusCode:  resp.StatusCode,
		Code:        fmt.Sprintf("HTTP_%d", resp.StatusCode),
		Description: string(body),
	}
}

func toXMLAddress(a Address) xmlAddressDetails {
	return xmlAddressDetails{
		AddressLine1:  a.AddressLine1,
		AddressLine2:  a.AddressLine2,
		City:          a.City,
		ProvState:     a.Province,
		PostalZipCode: normalizePostalCode(a.PostalCode),
		CountryCode:   a.CountryCode,
	}
}

// normalizePostalCode removes spaces from postal codes
func normalizePostalCode(pc string) string {
	return strings.ReplaceAll(strings.ToUpper(pc), " ", "")
}

var _ APIClient = (*HTTPAPIClient)(nil)

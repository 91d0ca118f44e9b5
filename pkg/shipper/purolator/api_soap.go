package purolator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"
)

// SOAPAPIClient is the production implementation of APIClient using SOAP/WSDL.
type SOAPAPIClient struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// SOAPAPIClientConfig holds configuration for the SOAP client.
type SOAPAPIClientConfig struct {
	BaseURL    string
	Username   string
	Password   string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewSOAPAPIClient creates a new SOAP-based API client for production use.
func NewSOAPAPIClient(cfg SOAPAPIClientConfig) *SOAPAPIClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &SOAPAPIClient{
		baseURL:    cfg.BaseURL,
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: httpClient,
	}
}

// CreateShipment creates a new shipment via the Purolator ShippingService.
func (c *SOAPAPIClient) CreateShipment(ctx context.Context, req *ShipmentRequest) (*ShipmentResponse, error) {
	soapBody, err := buildEnvelope(shipmentTmpl, req.RequestReference, req)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	env, err := c.call(ctx, c.baseURL+"/EWS/V2/Shipping/ShippingService.asmx", "CreateShipment", soapBody)
	if err != nil {
		return nil, err
	}
	resp := env.Body.CreateShipmentResponse
	if resp == nil {
		return nil, &APIError{StatusCode: http.StatusBadGateway, Code: "PARSE_ERROR", Description: "No shipment data in response"}
	}
	if err := resp.ResponseInformation.err(); err != nil {
		return nil, err
	}

	piecePINs := make([]string, len(resp.PiecePINs.PIN))
	for i, pin := range resp.PiecePINs.PIN {
		piecePINs[i] = pin.Value
	}

	return &ShipmentResponse{
		ShipmentPIN:          resp.ShipmentPIN.Value,
		PiecePINs:            piecePINs,
		ExpectedDeliveryDate: resp.ExpectedDeliveryDate,
	}, nil
}

// VoidShipment cancels a shipment via the Purolator ShippingService.
func (c *SOAPAPIClient) VoidShipment(ctx context.Context, shipmentPIN string) (*VoidResponse, error) {
	soapBody, err := buildEnvelope(voidTmpl, "", struct{ ShipmentPIN string }{shipmentPIN})
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	env, err := c.call(ctx, c.baseURL+"/EWS/V2/Shipping/ShippingService.asmx", "VoidShipment", soapBody)
	if err != nil {
		return nil, err
	}
	resp := env.Body.VoidShipmentResponse
	if resp == nil {
		return nil, &APIError{StatusCode: http.StatusBadGateway, Code: "PARSE_ERROR", Description: "No void response data"}
	}
	if err := resp.ResponseInformation.err(); err != nil {
		return nil, err
	}

	return &VoidResponse{ShipmentPIN: shipmentPIN, Voided: resp.ShipmentVoided}, nil
}

// GetTracking retrieves tracking info from the Purolator TrackingService.
// Scans are returned newest first.
func (c *SOAPAPIClient) GetTracking(ctx context.Context, trackingPIN string) (*TrackingResponse, error) {
	soapBody, err := buildEnvelope(trackingTmpl, "", struct{ TrackingPIN string }{trackingPIN})
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	env, err := c.call(ctx, c.baseURL+"/PWS/V1/Tracking/TrackingService.asmx", "TrackPackagesByPin", soapBody)
	if err != nil {
		return nil, err
	}
	resp := env.Body.TrackPackagesByPinResp
	if resp == nil {
		return nil, &APIError{StatusCode: http.StatusBadGateway, Code: "PARSE_ERROR", Description: "No tracking data in response"}
	}
	if err := resp.ResponseInformation.err(); err != nil {
		return nil, err
	}

	for _, info := range resp.TrackingInformationList.TrackingInformation {
		if info.PIN.Value != trackingPIN {
			continue
		}
		events := make([]TrackingEvent, len(info.Scans.Scan))
		for i, scan := range info.Scans.Scan {
			location := scan.Depot.Address.City
			if scan.Depot.Address.Province != "" {
				location += ", " + scan.Depot.Address.Province
			}
			events[i] = TrackingEvent{
				Timestamp:   scan.ScanDate + "T" + scan.ScanTime,
				Description: scan.Description,
				Location:    location,
				Type:        scan.ScanType,
			}
		}
		status := ""
		if len(events) > 0 {
			status = events[0].Type
		}
		return &TrackingResponse{TrackingPIN: trackingPIN, Status: status, Events: events}, nil
	}

	return nil, &APIError{
		StatusCode:  http.StatusNotFound,
		Code:        "TRACKING_NOT_FOUND",
		Description: "Tracking information not found for PIN",
	}
}

// ============================================================================
// SOAP Request Helpers
// ============================================================================

func (c *SOAPAPIClient) call(ctx context.Context, endpoint, action string, body []byte) (*soapEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Purolator uses Basic Auth
	auth := base64.StdEncoding.EncodeToString([]byte(c.username + ":" + c.password))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", fmt.Sprintf("http://purolator.com/pws/service/v2/%s", action))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var env soapEnvelope
	if xmlErr := xml.Unmarshal(data, &env); xmlErr != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, &APIError{StatusCode: resp.StatusCode, Code: fmt.Sprintf("HTTP_%d", resp.StatusCode), Description: string(data)}
		}
		return nil, fmt.Errorf("failed to parse response: %w", xmlErr)
	}

	if env.Body.Fault != nil {
		// soap:Client faults are caller errors; anything else is the service.
		status := http.StatusServiceUnavailable
		if strings.HasSuffix(env.Body.Fault.Code, "Client") {
			status = http.StatusBadRequest
		}
		return nil, &APIError{StatusCode: status, Code: env.Body.Fault.Code, Description: env.Body.Fault.String, Fault: true}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Code: fmt.Sprintf("HTTP_%d", resp.StatusCode), Description: http.StatusText(resp.StatusCode)}
	}
	return &env, nil
}

// ============================================================================
// SOAP Request Builders
// ============================================================================

var templateFuncs = template.FuncMap{
	"x": func(v any) string {
		var b strings.Builder
		_ = xml.EscapeText(&b, []byte(fmt.Sprint(v)))
		return b.String()
	},
}

var envelopeTmpl = template.Must(template.New("envelope").Funcs(templateFuncs).Parse(`<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/" xmlns:v2="http://purolator.com/pws/datatypes/v2">
  <soap:Header>
    <v2:RequestContext>
      <v2:Version>2.2</v2:Version>
      <v2:Language>en</v2:Language>
      <v2:GroupID>xxx</v2:GroupID>
      <v2:RequestReference>{{x .RequestRef}}</v2:RequestReference>
    </v2:RequestContext>
  </soap:Header>
  <soap:Body>
    {{.Body}}
  </soap:Body>
</soap:Envelope>`))

var shipmentTmpl = template.Must(template.New("shipment").Funcs(templateFuncs).Parse(`<v2:CreateShipmentRequest>
      <v2:Shipment>
        <v2:SenderInformation>
          <v2:Address>{{template "address" .Sender}}</v2:Address>
        </v2:SenderInformation>
        <v2:ReceiverInformation>
          <v2:Address>{{template "address" .Receiver}}</v2:Address>
        </v2:ReceiverInformation>
        <v2:PackageInformation>
          <v2:ServiceID>{{x .ServiceCode}}</v2:ServiceID>
          <v2:TotalWeight>
            <v2:Value>{{x .PackageInformation.TotalWeight.Value}}</v2:Value>
            <v2:WeightUnit>{{x .PackageInformation.TotalWeight.Unit}}</v2:WeightUnit>
          </v2:TotalWeight>
          <v2:TotalPieces>{{x .PackageInformation.TotalPieces}}</v2:TotalPieces>
        </v2:PackageInformation>
        <v2:PaymentInformation>
          <v2:PaymentType>Sender</v2:PaymentType>
          <v2:RegisteredAccountNumber>{{x .BillingAccountNumber}}</v2:RegisteredAccountNumber>
        </v2:PaymentInformation>
        <v2:TrackingReferenceInformation>
          <v2:Reference1>{{x .Reference}}</v2:Reference1>
        </v2:TrackingReferenceInformation>
      </v2:Shipment>
      <v2:PrinterType>{{x .PrinterType}}</v2:PrinterType>
    </v2:CreateShipmentRequest>
{{define "address"}}
            <v2:Name>{{x .Name}}</v2:Name>
            <v2:Company>{{x .Company}}</v2:Company>
            <v2:StreetNumber>{{x .StreetNumber}}</v2:StreetNumber>
            <v2:StreetName>{{x .StreetName}}</v2:StreetName>
            <v2:City>{{x .City}}</v2:City>
            <v2:Province>{{x .Province}}</v2:Province>
            <v2:PostalCode>{{x .PostalCode}}</v2:PostalCode>
            <v2:Country>{{x .Country}}</v2:Country>
            <v2:PhoneNumber>
              <v2:CountryCode>{{x .PhoneNumber.CountryCode}}</v2:CountryCode>
              <v2:AreaCode>{{x .PhoneNumber.AreaCode}}</v2:AreaCode>
              <v2:Phone>{{x .PhoneNumber.Phone}}</v2:Phone>
            </v2:PhoneNumber>
{{end}}`))

var voidTmpl = template.Must(template.New("void").Funcs(templateFuncs).Parse(`<v2:VoidShipmentRequest>
      <v2:PIN>
        <v2:Value>{{x .ShipmentPIN}}</v2:Value>
      </v2:PIN>
    </v2:VoidShipmentRequest>`))

var trackingTmpl = template.Must(template.New("tracking").Funcs(templateFuncs).Parse(`<v1:TrackPackagesByPinRequest xmlns:v1="http://purolator.com/pws/datatypes/v1">
      <v1:PINs>
        <v1:PIN>
          <v1:Value>{{x .TrackingPIN}}</v1:Value>
        </v1:PIN>
      </v1:PINs>
    </v1:TrackPackagesByPinRequest>`))

func buildEnvelope(body *template.Template, requestRef string, data any) ([]byte, error) {
	var bodyBuf bytes.Buffer
	if err := body.Execute(&bodyBuf, data); err != nil {
		return nil, err
	}

	if requestRef == "" {
		requestRef = fmt.Sprintf("req-%d", time.Now().UnixNano())
	}

	var envBuf bytes.Buffer
	err := envelopeTmpl.Execute(&envBuf, struct {
		RequestRef string
		Body       string
	}{RequestRef: requestRef, Body: bodyBuf.String()})
	if err != nil {
		return nil, err
	}
	return envBuf.Bytes(), nil
}

// ============================================================================
// SOAP Response Parsers - XML Types
// ============================================================================

// soapEnvelope represents a SOAP envelope response
type soapEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    soapBody `xml:"Body"`
}

type soapBody struct {
	Fault                  *soapFault                  `xml:"Fault,omitempty"`
	CreateShipmentResponse *createShipmentResponse     `xml:"CreateShipmentResponse,omitempty"`
	VoidShipmentResponse   *voidShipmentResponse       `xml:"VoidShipmentResponse,omitempty"`
	TrackPackagesByPinResp *trackPackagesByPinResponse `xml:"TrackPackagesByPinResponse,omitempty"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

type responseInfo struct {
	Errors []responseError `xml:"Errors>Error"`
}

// err reports the first validation error of a response.
func (r responseInfo) err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	e := r.Errors[0]
	return &APIError{StatusCode: http.StatusUnprocessableEntity, Code: e.Code, Description: e.Description}
}

type responseError struct {
	Code        string `xml:"Code"`
	Description string `xml:"Description"`
}

type createShipmentResponse struct {
	ResponseInformation  responseInfo `xml:"ResponseInformation"`
	ShipmentPIN          soapPIN      `xml:"ShipmentPIN"`
	PiecePINs            piecePINs    `xml:"PiecePINs"`
	ExpectedDeliveryDate string       `xml:"ExpectedDeliveryDate"`
}

type soapPIN struct {
	Value string `xml:"Value"`
}

type piecePINs struct {
	PIN []soapPIN `xml:"PIN"`
}

type voidShipmentResponse struct {
	ResponseInformation responseInfo `xml:"ResponseInformation"`
	ShipmentVoided      bool         `xml:"ShipmentVoided"`
}

type trackPackagesByPinResponse struct {
	ResponseInformation     responseInfo     `xml:"ResponseInformation"`
	TrackingInformationList trackingInfoList `xml:"TrackingInformationList"`
}

type trackingInfoList struct {
	TrackingInformation []trackingInfo `xml:"TrackingInformation"`
}

type trackingInfo struct {
	PIN   soapPIN   `xml:"PIN"`
	Scans soapScans `xml:"Scans"`
}

type soapScans struct {
	Scan []soapScan `xml:"Scan"`
}

type soapScan struct {
	ScanType    string    `xml:"ScanType"`
	ScanDate    string    `xml:"ScanDate"`
	ScanTime    string    `xml:"ScanTime"`
	Description string    `xml:"Description"`
	Depot       soapDepot `xml:"Depot"`
}

type soapDepot struct {
	Name    string      `xml:"Name"`
	Address soapAddress `xml:"Address"`
}

type soapAddress struct {
	City     string `xml:"City"`
	Province string `xml:"Province"`
}

var _ APIClient = (*SOAPAPIClient)(nil)

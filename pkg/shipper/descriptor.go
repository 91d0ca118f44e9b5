package shipper

import (
	"encoding/json"
	"sort"
	"strings"
)

// Feature is a capability a carrier declares statically.
type Feature string

const (
	FeatureCreateShipment Feature = "CreateShipment"
	FeatureWebhook        Feature = "Webhook"
	FeatureTracking       Feature = "Tracking"
	FeatureCancelShipment Feature = "CancelShipment"
)

// FeatureSet is an immutable set of features.
type FeatureSet struct {
	features map[Feature]struct{}
}

// NewFeatureSet creates a feature set from the given features.
func NewFeatureSet(features ...Feature) FeatureSet {
	m := make(map[Feature]struct{}, len(features))
	for _, f := range features {
		m[f] = struct{}{}
	}
	return FeatureSet{features: m}
}

// Has reports whether the set contains f.
func (s FeatureSet) Has(f Feature) bool {
	_, ok := s.features[f]
	return ok
}

// Len returns the number of features.
func (s FeatureSet) Len() int {
	return len(s.features)
}

// List returns the features sorted by name.
func (s FeatureSet) List() []Feature {
	out := make([]Feature, 0, len(s.features))
	for f := range s.features {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MarshalJSON encodes the set as a sorted array.
func (s FeatureSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.List())
}

// Descriptor is the static metadata of a carrier.
type Descriptor struct {
	Slug        string     `json:"slug"`
	Name        string     `json:"name"`
	DisplayName string     `json:"displayName"`
	Features    FeatureSet `json:"features"`
}

// Supports reports whether the carrier declares f.
func (d Descriptor) Supports(f Feature) bool {
	return d.Features.Has(f)
}

// IntegrationType returns the tenant integration type bound to this carrier,
// e.g. "FREIGHTCOM_SHIPPING".
func (d Descriptor) IntegrationType() string {
	return IntegrationTypeFor(d.Slug)
}

// IntegrationTypeFor derives the integration type from a provider slug.
func IntegrationTypeFor(slug string) string {
	t := strings.ToUpper(strings.TrimSpace(slug))
	t = strings.ReplaceAll(t, "-", "_")
	return t + "_SHIPPING"
}

package domain

import "strings"

// Location is a named geographic point. It is immutable once observations
// reference it and its Key partitions every store and cache.
type Location struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// Key returns the canonical partition key for the location.
func (l Location) Key() string {
	return strings.ToLower(strings.TrimSpace(l.Name))
}

// Validate checks name presence and WGS-84 coordinate bounds.
func (l Location) Validate() error {
	const op = "location.validate"
	if l.Key() == "" {
		return Errorf(KindValidation, op, "location name is empty")
	}
	if l.Lat < -90 || l.Lat > 90 {
		return Errorf(KindValidation, op, "latitude %v out of range [-90,90]", l.Lat)
	}
	if l.Lon < -180 || l.Lon > 180 {
		return Errorf(KindValidation, op, "longitude %v out of range [-180,180]", l.Lon)
	}
	return nil
}

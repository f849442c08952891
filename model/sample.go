package model

import "time"

// GroundPoint is the sub-satellite point at a given instant on the WGS84
// ellipsoid.
type GroundPoint struct {
	LatitudeDeg  float64 `json:"lat"`
	LongitudeDeg float64 `json:"lon"`
	AltitudeKm   float64 `json:"alt_km"`
}

// KinematicSample pairs a ground point with the body's scalar speed.
type KinematicSample struct {
	Point     GroundPoint `json:"point"`
	SpeedKmh  float64     `json:"speed_kmh"`
	Timestamp time.Time   `json:"t"`
}

// TrackHistory is an ordered sequence of samples taken at fixed backward
// offsets from a reference instant. Index 0 is always the reference
// instant's own sample; later indices are older.
type TrackHistory []KinematicSample

// Latitudes returns the history's latitudes in sample order.
func (h TrackHistory) Latitudes() []float64 {
	out := make([]float64, len(h))
	for i, s := range h {
		out[i] = s.Point.LatitudeDeg
	}
	return out
}

// Longitudes returns the history's longitudes in sample order.
func (h TrackHistory) Longitudes() []float64 {
	out := make([]float64, len(h))
	for i, s := range h {
		out[i] = s.Point.LongitudeDeg
	}
	return out
}

// Altitudes returns the history's altitudes (km) in sample order.
func (h TrackHistory) Altitudes() []float64 {
	out := make([]float64, len(h))
	for i, s := range h {
		out[i] = s.Point.AltitudeKm
	}
	return out
}

// Speeds returns the history's speeds (km/h) in sample order.
func (h TrackHistory) Speeds() []float64 {
	out := make([]float64, len(h))
	for i, s := range h {
		out[i] = s.SpeedKmh
	}
	return out
}

// Timestamps returns the history's sample instants in sample order.
func (h TrackHistory) Timestamps() []time.Time {
	out := make([]time.Time, len(h))
	for i, s := range h {
		out[i] = s.Timestamp
	}
	return out
}

// Clone returns a copy that shares no backing array with h.
func (h TrackHistory) Clone() TrackHistory {
	if h == nil {
		return nil
	}
	out := make(TrackHistory, len(h))
	copy(out, h)
	return out
}

// Series is the parallel-array form of a TrackHistory consumed by plotting
// and export collaborators.
type Series struct {
	Latitudes  []float64   `json:"lat"`
	Longitudes []float64   `json:"lon"`
	Altitudes  []float64   `json:"alt_km"`
	Speeds     []float64   `json:"speed_kmh"`
	Timestamps []time.Time `json:"t"`
}

// Series converts the history into parallel arrays.
func (h TrackHistory) Series() Series {
	return Series{
		Latitudes:  h.Latitudes(),
		Longitudes: h.Longitudes(),
		Altitudes:  h.Altitudes(),
		Speeds:     h.Speeds(),
		Timestamps: h.Timestamps(),
	}
}

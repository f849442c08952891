package rpc

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/groundtrack/core"
	"github.com/signalsfoundry/groundtrack/internal/tracker"
	"github.com/signalsfoundry/groundtrack/model"
)

func sampleFields(s model.KinematicSample) map[string]any {
	return map[string]any{
		"lat":       s.Point.LatitudeDeg,
		"lon":       s.Point.LongitudeDeg,
		"alt_km":    s.Point.AltitudeKm,
		"speed_kmh": s.SpeedKmh,
		"t":         s.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

func seriesFields(h model.TrackHistory) map[string]any {
	ts := h.Timestamps()
	times := make([]any, len(ts))
	for i, t := range ts {
		times[i] = t.UTC().Format(time.RFC3339Nano)
	}
	return map[string]any{
		"lat":       floats(h.Latitudes()),
		"lon":       floats(h.Longitudes()),
		"alt_km":    floats(h.Altitudes()),
		"speed_kmh": floats(h.Speeds()),
		"t":         times,
	}
}

func floats(v []float64) []any {
	out := make([]any, len(v))
	for i, f := range v {
		out[i] = f
	}
	return out
}

func snapshotFields(s tracker.Snapshot) map[string]any {
	out := map[string]any{
		"satellite":    s.Satellite,
		"norad_id":     s.Elements.NoradID,
		"status":       string(s.Status),
		"reason":       s.Reason,
		"span_minutes": s.Span.Minutes(),
		"step_minutes": s.Step.Minutes(),
		"history":      seriesFields(s.History),
	}
	if s.Current != nil {
		out["current"] = sampleFields(*s.Current)
	}
	if !s.UpdatedAt.IsZero() {
		out["updated_at"] = s.UpdatedAt.Format(time.RFC3339Nano)
	}
	if !s.LastGood.IsZero() {
		out["last_good"] = s.LastGood.Format(time.RFC3339Nano)
	}
	return out
}

func stringField(req *structpb.Struct, key string) string {
	if req == nil {
		return ""
	}
	if v, ok := req.GetFields()[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

// minutesField reads a whole number of minutes, returning def when absent.
func minutesField(req *structpb.Struct, key string, def time.Duration) (time.Duration, error) {
	if req == nil {
		return def, nil
	}
	v, ok := req.GetFields()[key]
	if !ok {
		return def, nil
	}
	n, isNum := v.GetKind().(*structpb.Value_NumberValue)
	if !isNum || math.IsNaN(n.NumberValue) || n.NumberValue != math.Trunc(n.NumberValue) {
		return 0, fmt.Errorf("%w: %s must be a whole number of minutes", ErrInvalidRequest, key)
	}
	if math.Abs(n.NumberValue) > float64(core.MaxMinutes) {
		return 0, fmt.Errorf("%w: %s %g minutes is out of range", ErrInvalidRequest, key, n.NumberValue)
	}
	return time.Duration(n.NumberValue) * time.Minute, nil
}

// instantField parses an optional RFC 3339 "at"; absent means now (zero).
func instantField(req *structpb.Struct, key string) (time.Time, error) {
	raw := stringField(req, key)
	if raw == "" {
		return time.Time{}, nil
	}
	return core.ParseInstant(raw)
}

func sampleFromStruct(s *structpb.Struct) (model.KinematicSample, error) {
	f := s.GetFields()
	ts, err := time.Parse(time.RFC3339Nano, f["t"].GetStringValue())
	if err != nil {
		return model.KinematicSample{}, fmt.Errorf("%w: sample timestamp: %v", ErrInvalidRequest, err)
	}
	return model.KinematicSample{
		Point: model.GroundPoint{
			LatitudeDeg:  f["lat"].GetNumberValue(),
			LongitudeDeg: f["lon"].GetNumberValue(),
			AltitudeKm:   f["alt_km"].GetNumberValue(),
		},
		SpeedKmh:  f["speed_kmh"].GetNumberValue(),
		Timestamp: ts.UTC(),
	}, nil
}

func historyFromStruct(s *structpb.Struct) (model.TrackHistory, error) {
	f := s.GetFields()
	lat := f["lat"].GetListValue().GetValues()
	lon := f["lon"].GetListValue().GetValues()
	alt := f["alt_km"].GetListValue().GetValues()
	speed := f["speed_kmh"].GetListValue().GetValues()
	ts := f["t"].GetListValue().GetValues()
	n := len(ts)
	if len(lat) != n || len(lon) != n || len(alt) != n || len(speed) != n {
		return nil, fmt.Errorf("%w: history arrays differ in length", ErrInvalidRequest)
	}
	h := make(model.TrackHistory, n)
	for i := range h {
		t, err := time.Parse(time.RFC3339Nano, ts[i].GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("%w: history timestamp %d: %v", ErrInvalidRequest, i, err)
		}
		h[i] = model.KinematicSample{
			Point: model.GroundPoint{
				LatitudeDeg:  lat[i].GetNumberValue(),
				LongitudeDeg: lon[i].GetNumberValue(),
				AltitudeKm:   alt[i].GetNumberValue(),
			},
			SpeedKmh:  speed[i].GetNumberValue(),
			Timestamp: t.UTC(),
		}
	}
	return h, nil
}

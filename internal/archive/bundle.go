// Package archive builds password-sealed snapshot bundles of the tracked
// satellite for offline keeping.
package archive

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/groundtrack/internal/tracker"
	"github.com/signalsfoundry/groundtrack/model"
)

// ErrNoSample is returned when the snapshot carries no position to archive.
var ErrNoSample = errors.New("snapshot has no sample to archive")

// Telemetry labels, in display order.
const (
	LabelLatitude    = "LATITUDE"
	LabelLongitude   = "LONGITUDE"
	LabelAltitude    = "ALTITUDE_KM"
	LabelSpeed       = "SPEED_KMH"
	LabelTimestamp   = "TIMESTAMP_UTC"
	LabelEpoch       = "EPOCH_UTC"
	LabelEpochAge    = "EPOCH_AGE_H"
	LabelNoradID     = "NORAD_ID"
	LabelTrackPoints = "TRACK_POINTS"
	LabelStatus      = "STATUS"
)

// Labels lists every telemetry label in display order.
var Labels = []string{
	LabelLatitude, LabelLongitude, LabelAltitude, LabelSpeed, LabelTimestamp,
	LabelEpoch, LabelEpochAge, LabelNoradID, LabelTrackPoints, LabelStatus,
}

// Bundle is the archived view of one snapshot.
type Bundle struct {
	FID         string            `json:"fid"`
	Satellite   string            `json:"satellite"`
	NoradID     int               `json:"norad_id"`
	Status      string            `json:"status"`
	Position    string            `json:"position"`
	GeneratedAt time.Time         `json:"generated_at"`
	Telemetry   map[string]string `json:"telemetry"`
	History     model.Series      `json:"history"`
}

// Manifest is the short identification line printed with an archive. It
// never includes the password.
func (b Bundle) Manifest() string {
	return fmt.Sprintf("SATELLITE:%s|FID:%s", b.Satellite, b.FID)
}

// Build turns a tracker snapshot into a Bundle stamped at now.
func Build(snap tracker.Snapshot, now time.Time) (Bundle, error) {
	if snap.Current == nil {
		return Bundle{}, fmt.Errorf("%w: %s is %s", ErrNoSample, snap.Satellite, snap.Status)
	}
	fid, err := uuid.NewRandom()
	if err != nil {
		return Bundle{}, fmt.Errorf("generate fid: %w", err)
	}
	cur := *snap.Current
	return Bundle{
		FID:         fid.String(),
		Satellite:   snap.Satellite,
		NoradID:     snap.Elements.NoradID,
		Status:      string(snap.Status),
		Position:    fmt.Sprintf("%.4f, %.4f", cur.Point.LatitudeDeg, cur.Point.LongitudeDeg),
		GeneratedAt: now.UTC(),
		Telemetry:   Readout(cur, snap.Elements, len(snap.History), string(snap.Status)),
		History:     snap.History.Series(),
	}, nil
}

// Readout derives the telemetry labels from one sample. It is a pure
// function of its inputs.
func Readout(s model.KinematicSample, es model.ElementSet, trackPoints int, status string) map[string]string {
	epoch, age := "", ""
	if !es.Epoch.IsZero() {
		epoch = es.Epoch.UTC().Format(time.RFC3339)
		age = strconv.FormatFloat(math.Round(es.EpochAge(s.Timestamp).Hours()*10)/10, 'f', 1, 64)
	}
	return map[string]string{
		LabelLatitude:    strconv.FormatFloat(s.Point.LatitudeDeg, 'f', 4, 64),
		LabelLongitude:   strconv.FormatFloat(s.Point.LongitudeDeg, 'f', 4, 64),
		LabelAltitude:    strconv.FormatFloat(s.Point.AltitudeKm, 'f', 2, 64),
		LabelSpeed:       strconv.FormatFloat(s.SpeedKmh, 'f', 1, 64),
		LabelTimestamp:   s.Timestamp.UTC().Format(time.RFC3339),
		LabelEpoch:       epoch,
		LabelEpochAge:    age,
		LabelNoradID:     strconv.Itoa(es.NoradID),
		LabelTrackPoints: strconv.Itoa(trackPoints),
		LabelStatus:      status,
	}
}

package core

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/groundtrack/model"
)

// Gravity selects the geopotential constants SGP4 is initialised with.
type Gravity int

const (
	// GravityWGS72 is the model element sets are fitted against.
	GravityWGS72 Gravity = iota
	// GravityWGS84 trades fit consistency for the newer constants.
	GravityWGS84
)

// ParseGravity maps "wgs72"/"wgs84" (case-insensitive) onto a Gravity.
func ParseGravity(s string) (Gravity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "wgs72":
		return GravityWGS72, nil
	case "wgs84":
		return GravityWGS84, nil
	default:
		return GravityWGS72, fmt.Errorf("unknown gravity model %q", s)
	}
}

func (g Gravity) String() string {
	if g == GravityWGS84 {
		return "wgs84"
	}
	return "wgs72"
}

func (g Gravity) constants() satellite.Gravity {
	if g == GravityWGS84 {
		return satellite.GravityWGS84
	}
	return satellite.GravityWGS72
}

// Plausible geocentric radius band for an Earth-orbiting body, km.
const (
	minOrbitRadiusKm = 6200.0
	maxOrbitRadiusKm = 50000.0
)

// stateVector is one propagation result in the TEME frame together with the
// sidereal angle needed to rotate it into Earth-fixed coordinates.
type stateVector struct {
	Position Vec3 // km
	Velocity Vec3 // km/s
	GMST     float64
}

// SGP4Propagator wraps an initialised go-satellite record for one element set.
// go-satellite works in kilometres and km/s; so does everything here.
type SGP4Propagator struct {
	sat satellite.Satellite
	id  string
}

// NewSGP4Propagator validates the element lines and initialises SGP4.
func NewSGP4Propagator(es model.ElementSet, g Gravity) (*SGP4Propagator, error) {
	line1 := strings.TrimSpace(es.Line1)
	line2 := strings.TrimSpace(es.Line2)

	// go-satellite exits the process on unparsable columns, so everything it
	// reads is checked first.
	if err := validateLines(line1, line2); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidElements, es.ID(), err)
	}

	sat := satellite.TLEToSat(line1, line2, g.constants())
	if sat.Error != 0 {
		return nil, fmt.Errorf("%w: sgp4 init for %s: code=%d %s", ErrPropagation, es.ID(), sat.Error, sat.ErrorStr)
	}
	return &SGP4Propagator{sat: sat, id: es.ID()}, nil
}

// Propagate returns the TEME state at t. Sub-second precision is dropped:
// the library takes integer calendar fields.
func (p *SGP4Propagator) Propagate(t time.Time) (stateVector, error) {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	pos, vel := satellite.Propagate(p.sat, year, int(month), day, hour, min, sec)
	state := stateVector{
		Position: Vec3{X: pos.X, Y: pos.Y, Z: pos.Z},
		Velocity: Vec3{X: vel.X, Y: vel.Y, Z: vel.Z},
	}

	// Propagate takes the record by value, so SGP4 error codes never reach
	// us; failures show up as non-finite or absurd output instead.
	if !state.Position.finite() || !state.Velocity.finite() {
		return stateVector{}, fmt.Errorf("%w: %s at %s: output is NaN/Inf", ErrPropagation, p.id, t.Format(time.RFC3339))
	}
	if r := state.Position.Norm(); r < minOrbitRadiusKm || r > maxOrbitRadiusKm {
		return stateVector{}, fmt.Errorf("%w: %s at %s: implausible radius %.1f km", ErrPropagation, p.id, t.Format(time.RFC3339), r)
	}

	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	state.GMST = satellite.ThetaG_JD(jd)
	return state, nil
}

// GroundPoint projects the state onto the WGS84 ellipsoid.
func (s stateVector) GroundPoint() model.GroundPoint {
	alt, _, ll := satellite.ECIToLLA(satellite.Vector3{X: s.Position.X, Y: s.Position.Y, Z: s.Position.Z}, s.GMST)
	return model.GroundPoint{
		LatitudeDeg:  clampLatitude(ll.Latitude * rad2deg),
		LongitudeDeg: wrapLongitude(ll.Longitude * rad2deg),
		AltitudeKm:   alt,
	}
}

// ECEF rotates the position into the Earth-fixed frame (km).
func (s stateVector) ECEF() Vec3 {
	v := satellite.ECIToECEF(satellite.Vector3{X: s.Position.X, Y: s.Position.Y, Z: s.Position.Z}, s.GMST)
	return Vec3{X: v.X, Y: v.Y, Z: v.Z}
}

// SpeedKmh is the norm of the inertial velocity converted from km/s.
func (s stateVector) SpeedKmh() float64 {
	return s.Velocity.Norm() * 3600
}

func validateLines(line1, line2 string) error {
	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if !strings.HasPrefix(line1, "1 ") {
		return fmt.Errorf("line1 must start with \"1 \"")
	}
	if !strings.HasPrefix(line2, "2 ") {
		return fmt.Errorf("line2 must start with \"2 \"")
	}
	if a, b := strings.TrimSpace(line1[2:7]), strings.TrimSpace(line2[2:7]); a != b {
		return fmt.Errorf("catalog numbers differ: %q vs %q", a, b)
	}

	ints := [][2]string{
		{"catalog number", strings.TrimSpace(line1[2:7])},
		{"epoch year", line1[18:20]},
	}
	for _, f := range ints {
		if _, err := strconv.ParseInt(f[1], 10, 64); err != nil {
			return fmt.Errorf("%s %q: %w", f[0], f[1], err)
		}
	}

	floats := [][2]string{
		{"epoch day", line1[20:32]},
		{"ndot", strings.Replace(line1[33:43], " ", "", 2)},
		{"nddot", strings.Replace(line1[44:45]+"."+line1[45:50]+"e"+line1[50:52], " ", "", 2)},
		{"bstar", strings.Replace(line1[53:54]+"."+line1[54:59]+"e"+line1[59:61], " ", "", 2)},
		{"inclination", strings.Replace(line2[8:16], " ", "", 2)},
		{"raan", strings.Replace(line2[17:25], " ", "", 2)},
		{"eccentricity", "." + line2[26:33]},
		{"arg of perigee", strings.Replace(line2[34:42], " ", "", 2)},
		{"mean anomaly", strings.Replace(line2[43:51], " ", "", 2)},
		{"mean motion", strings.Replace(line2[52:63], " ", "", 2)},
	}
	for _, f := range floats {
		if _, err := strconv.ParseFloat(f[1], 64); err != nil {
			return fmt.Errorf("%s %q: %w", f[0], f[1], err)
		}
	}
	return nil
}

func wrapLongitude(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

func clampLatitude(lat float64) float64 {
	switch {
	case lat > 90:
		return 90
	case lat < -90:
		return -90
	default:
		return lat
	}
}

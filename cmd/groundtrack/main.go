// Command groundtrack prints the current sub-satellite point and trailing
// ground track of one satellite.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/signalsfoundry/groundtrack/core"
	"github.com/signalsfoundry/groundtrack/internal/feed"
	"github.com/signalsfoundry/groundtrack/internal/logging"
	"github.com/signalsfoundry/groundtrack/kb"
	"github.com/signalsfoundry/groundtrack/model"
)

type options struct {
	feedURL  string
	name     string
	line1    string
	line2    string
	at       string
	span     int
	step     int
	gravity  string
	observer string
	asJSON   bool
}

func main() {
	log := logging.NewFromEnv()
	if err := run(context.Background(), os.Args[1:], os.Stdout, log); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "groundtrack:", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("groundtrack", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.feedURL, "feed-url", feed.DefaultSourceURL, "TLE feed URL or local file")
	fs.StringVar(&o.name, "name", "ISS (ZARYA)", "satellite name (case-insensitive) or NORAD id")
	fs.StringVar(&o.line1, "line1", "", "element set line 1; with -line2 skips the feed")
	fs.StringVar(&o.line2, "line2", "", "element set line 2")
	fs.StringVar(&o.at, "at", "", "instant (RFC 3339 with zone); default now")
	fs.IntVar(&o.span, "span", 100, "history span in minutes")
	fs.IntVar(&o.step, "step", 10, "history step in minutes")
	fs.StringVar(&o.gravity, "gravity", "wgs72", "gravity model: wgs72 or wgs84")
	fs.StringVar(&o.observer, "observer", "", "ground observer as lat,lon[,alt_km] for a look angle")
	fs.BoolVar(&o.asJSON, "json", false, "print JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if (o.line1 == "") != (o.line2 == "") {
		return options{}, errors.New("-line1 and -line2 must be given together")
	}
	return o, nil
}

func run(ctx context.Context, args []string, out io.Writer, log logging.Logger) error {
	o, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}

	gravity, err := core.ParseGravity(o.gravity)
	if err != nil {
		return err
	}
	engine := core.NewEngine(core.WithGravity(gravity))

	at := engine.Now()
	if o.at != "" {
		if at, err = core.ParseInstant(o.at); err != nil {
			return err
		}
	}

	es, err := resolve(ctx, o, log)
	if err != nil {
		return err
	}

	span := time.Duration(o.span) * time.Minute
	step := time.Duration(o.step) * time.Minute
	cur, history, err := engine.Track(es, at, span, step)
	if err != nil {
		return err
	}

	var look *core.LookAngle
	if o.observer != "" {
		obs, err := parseObserver(o.observer)
		if err != nil {
			return err
		}
		la, err := engine.LookAngle(es, at, obs)
		if err != nil {
			return err
		}
		look = &la
	}

	if o.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Name     string                `json:"name"`
			NoradID  int                   `json:"norad_id"`
			Current  model.KinematicSample `json:"current"`
			History  model.Series          `json:"history"`
			Observer *core.LookAngle       `json:"look_angle,omitempty"`
		}{es.Name, es.NoradID, cur, history.Series(), look})
	}
	return printTable(out, es, cur, history, look)
}

// resolve returns the element set from -line1/-line2 or from the feed.
func resolve(ctx context.Context, o options, log logging.Logger) (model.ElementSet, error) {
	if o.line1 != "" {
		return model.ParseElementSet(o.name, o.line1, o.line2)
	}
	cat, err := feed.NewLoader(feed.NewFetcher(o.feedURL, log), nil, log).Load(ctx)
	if err != nil {
		return model.ElementSet{}, err
	}
	if id, convErr := strconv.Atoi(strings.TrimSpace(o.name)); convErr == nil {
		if es, ok := cat.GetByNoradID(id); ok {
			return es, nil
		}
		return model.ElementSet{}, fmt.Errorf("%w: NORAD %d", kb.ErrSatelliteNotFound, id)
	}
	return cat.Lookup(o.name)
}

func parseObserver(s string) (model.GroundPoint, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return model.GroundPoint{}, fmt.Errorf("observer %q: want lat,lon[,alt_km]", s)
	}
	vals := make([]float64, 3)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return model.GroundPoint{}, fmt.Errorf("observer %q: %w", s, err)
		}
		vals[i] = v
	}
	if vals[0] < -90 || vals[0] > 90 || vals[1] < -180 || vals[1] > 180 {
		return model.GroundPoint{}, fmt.Errorf("observer %q out of range", s)
	}
	return model.GroundPoint{LatitudeDeg: vals[0], LongitudeDeg: vals[1], AltitudeKm: vals[2]}, nil
}

func printTable(out io.Writer, es model.ElementSet, cur model.KinematicSample, history model.TrackHistory, look *core.LookAngle) error {
	fmt.Fprintf(out, "%s (NORAD %d) at %s\n", es.Name, es.NoradID, cur.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(out, "  lat %.4f  lon %.4f  alt %.1f km  speed %.0f km/h\n",
		cur.Point.LatitudeDeg, cur.Point.LongitudeDeg, cur.Point.AltitudeKm, cur.SpeedKmh)
	if look != nil {
		fmt.Fprintf(out, "  elevation %.2f deg  range %.1f km  visible %t\n", look.ElevationDeg, look.RangeKm, look.Visible)
	}
	fmt.Fprintln(out)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "time\tlat\tlon\talt_km\tspeed_kmh\t")
	for _, s := range history {
		fmt.Fprintf(tw, "%s\t%.4f\t%.4f\t%.1f\t%.0f\t\n",
			s.Timestamp.Format(time.RFC3339), s.Point.LatitudeDeg, s.Point.LongitudeDeg, s.Point.AltitudeKm, s.SpeedKmh)
	}
	return tw.Flush()
}

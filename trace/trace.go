// Package trace implements the optional dump-trace sink (§6): a
// line-oriented record of every direct-location call and its result,
// for debugging and regression comparison against a reference run.
//
// Grounded on the teacher's bracketed-tag log convention
// ("[TaskQueue] ...") carried here into a fixed-width record prefix, and
// on its ISO-8601 date-formatting idiom for the timestamp field.
package trace

import (
	"fmt"
	"io"
	"time"

	"pushbroom/ellipsoid"
	"pushbroom/spatial"
)

const dateLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Sink receives one record per direct-location call, in order. It has
// no return value because tracing must never change or fail the
// calling operation (§6 "the sink is a pure side channel").
type Sink interface {
	DirectLocation(date time.Time, p, los spatial.Vector3, lightTime, aberration, refraction bool)
	Result(gp ellipsoid.GeodeticPoint)
}

// NopSink discards every record; it is the engine's default so tracing
// has zero cost unless explicitly enabled.
type NopSink struct{}

func (NopSink) DirectLocation(time.Time, spatial.Vector3, spatial.Vector3, bool, bool, bool) {}
func (NopSink) Result(ellipsoid.GeodeticPoint)                                               {}

// TextSink writes each record as a line of whitespace-separated fields
// to w, matching §6's documented grammar:
//
//	direct location  <ISO-8601 date> px py pz lx ly lz lt:<bool> ab:<bool> ref:<bool>
//	-> result        lat lon alt
type TextSink struct {
	w io.Writer
}

// NewTextSink wraps w as a TextSink.
func NewTextSink(w io.Writer) *TextSink {
	return &TextSink{w: w}
}

func (s *TextSink) DirectLocation(date time.Time, p, los spatial.Vector3, lightTime, aberration, refraction bool) {
	fmt.Fprintf(s.w, "direct location  %s %g %g %g %g %g %g lt:%t ab:%t ref:%t\n",
		date.UTC().Format(dateLayout),
		p.X, p.Y, p.Z,
		los.X, los.Y, los.Z,
		lightTime, aberration, refraction)
}

func (s *TextSink) Result(gp ellipsoid.GeodeticPoint) {
	fmt.Fprintf(s.w, "-> result        %g %g %g\n", gp.Latitude, gp.Longitude, gp.Altitude)
}

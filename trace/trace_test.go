package trace

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pushbroom/ellipsoid"
	"pushbroom/spatial"
)

func TestNopSinkDoesNothing(t *testing.T) {
	var s Sink = NopSink{}
	s.DirectLocation(time.Now(), spatial.Vector3{}, spatial.Vector3{}, true, true, false)
	s.Result(ellipsoid.GeodeticPoint{})
}

func TestTextSinkFormatsDirectLocationRecord(t *testing.T) {
	var buf bytes.Buffer
	s := NewTextSink(&buf)

	date := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	p := spatial.Vector3{X: 1, Y: 2, Z: 3}
	los := spatial.Vector3{X: 0, Y: 0, Z: -1}
	s.DirectLocation(date, p, los, true, false, true)

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "direct location  2026-03-01T12:30:00"))
	assert.Contains(t, out, "1 2 3")
	assert.Contains(t, out, "0 0 -1")
	assert.Contains(t, out, "lt:true ab:false ref:true")
}

func TestTextSinkFormatsResultRecord(t *testing.T) {
	var buf bytes.Buffer
	s := NewTextSink(&buf)

	s.Result(ellipsoid.GeodeticPoint{Latitude: 0.1, Longitude: 0.2, Altitude: 123.5})

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "-> result        0.1 0.2 123.5"))
}

func TestTextSinkWritesOneLinePerRecord(t *testing.T) {
	var buf bytes.Buffer
	s := NewTextSink(&buf)

	s.DirectLocation(time.Now(), spatial.Vector3{}, spatial.Vector3{Z: -1}, false, false, false)
	s.Result(ellipsoid.GeodeticPoint{})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 2)
}

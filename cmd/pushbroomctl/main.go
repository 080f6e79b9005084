// Command pushbroomctl exercises the georeferencing engine against a
// synthetic scene: a short straight-line trajectory, a narrow nadir
// line sensor and a flat DEM tile. It prints one direct-location
// result per pixel of a chosen line, with an optional dump-trace
// alongside (§6).
//
// Grounded on the teacher's main.go logging idiom (timestamped,
// file-located log lines via log.SetFlags), trimmed of every
// Wails/GUI concern.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"pushbroom/dem"
	"pushbroom/ellipsoid"
	"pushbroom/engineconfig"
	"pushbroom/frames"
	"pushbroom/georef"
	"pushbroom/intersect"
	"pushbroom/sensor"
	"pushbroom/spatial"
	"pushbroom/tilecache"
	"pushbroom/trace"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	line := flag.Float64("line", 500, "line number to locate")
	pixels := flag.Int("pixels", 41, "pixel count of the synthetic sensor")
	traceFlag := flag.Bool("trace", false, "print dump-trace records to stderr")
	flag.Parse()

	if err := run(*line, *pixels, *traceFlag); err != nil {
		log.Fatalf("pushbroomctl: %v", err)
	}
}

func run(line float64, pixelCount int, withTrace bool) error {
	engine, sensorName, err := buildEngine(pixelCount)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	if withTrace {
		engine.SetTraceSink(trace.NewTextSink(os.Stderr))
	}

	results, err := engine.DirectLocationLine(sensorName, line)
	if err != nil {
		log.Printf("direct location stopped early at pixel %d: %v", len(results), err)
	}

	log.Printf("line %g: %d ground points", line, len(results))
	for i, gp := range results {
		fmt.Printf("pixel %4d  lat=%10.6f  lon=%11.6f  alt=%8.2f\n",
			i, gp.Latitude*180/math.Pi, gp.Longitude*180/math.Pi, gp.Altitude)
	}
	return nil
}

// buildEngine assembles a minimal but internally consistent scene: a
// spacecraft moving at low-earth-orbit speed along a fixed inertial
// direction, a non-rotating spacecraft/body frame pair, a narrow
// nadir-fanned line sensor and a single flat DEM tile covering the
// polar cap (latitude 85..90, longitude 0..360) that the track flies
// over.
func buildEngine(pixelCount int) (*georef.Engine, string, error) {
	base := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	const altitude = 700000.0 // meters, roughly sun-synchronous altitude
	const speed = 7500.0      // meters/second, roughly LEO ground speed

	var pv []frames.PVSample
	for i := 0; i <= 60; i++ {
		dt := float64(i)
		pv = append(pv, frames.PVSample{
			Date:     base.Add(time.Duration(dt * float64(time.Second))),
			Position: spatial.Vector3{X: 0, Y: speed * dt, Z: ellipsoid.WGS84.A + altitude},
			Velocity: spatial.Vector3{X: 0, Y: speed, Z: 0},
		})
	}
	identity := []frames.AttitudeSample{
		{Date: base, Rotation: spatial.Identity, Spin: spatial.Vector3{}},
		{Date: base.Add(60 * time.Second), Rotation: spatial.Identity, Spin: spatial.Vector3{}},
	}

	provider, err := frames.NewProvider(pv, identity, identity, frames.DefaultConfig())
	if err != nil {
		return nil, "", fmt.Errorf("transform provider: %w", err)
	}

	datation, err := sensor.NewLinearDatation(base, 0, 100) // 100 lines/second
	if err != nil {
		return nil, "", fmt.Errorf("datation: %w", err)
	}

	const halfFOV = 0.05 // radians, narrow swath
	builder := sensor.NewBuilder(pixelCount, func(pixel int) spatial.Vector3 {
		frac := float64(pixel)/float64(pixelCount-1)*2 - 1
		angle := frac * halfFOV
		return spatial.Vector3{X: math.Sin(angle), Y: 0, Z: -math.Cos(angle)}
	})
	nadir := sensor.NewSensor("nadir", spatial.Vector3{}, datation, builder.Build())

	cache, err := tilecache.New(16, tilecache.UpdaterFunc(func(lat, lon float64, tile *dem.Tile) error {
		if err := tile.SetGeometry(85, 0, 0.1, 3.6, 51, 101); err != nil {
			return err
		}
		for i := 0; i < tile.Rows(); i++ {
			for j := 0; j < tile.Cols(); j++ {
				if err := tile.SetElevation(i, j, 0); err != nil {
					return err
				}
			}
		}
		return nil
	}))
	if err != nil {
		return nil, "", fmt.Errorf("tile cache: %w", err)
	}

	intersector := intersect.New(ellipsoid.WGS84, cache, intersect.Duvenhage, 1000)

	cfg := engineconfig.DefaultConfig()
	engine, err := georef.NewEngine(ellipsoid.WGS84, intersector, provider,
		map[string]sensor.Sensor{"nadir": nadir}, cfg)
	if err != nil {
		return nil, "", fmt.Errorf("engine: %w", err)
	}
	return engine, "nadir", nil
}

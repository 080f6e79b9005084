// Package engineconfig is the explicit, defaulted configuration struct
// for the georeferencing engine: cache capacities, time-range overshoot
// tolerance, interpolation degrees, and the intersector watchdog.
//
// Grounded on the teacher's internal/config/settings.go and
// internal/cache/config.go idiom: a plain struct with JSON tags and a
// Default...() constructor, rather than functional options.
package engineconfig

import (
	"time"

	"pushbroom/frames"
)

// Config bundles every tunable the engine's collaborators need at
// construction time (§9 "engine configuration").
type Config struct {
	// TileCacheCapacity is the number of sealed DEM tiles the paged
	// store keeps resident (§4.2).
	TileCacheCapacity int `json:"tileCacheCapacity"`

	// WatchdogThreshold bounds how many tile switches a single
	// intersection may perform before it is declared non-convergent
	// (§4.2, §4.3).
	WatchdogThreshold uint64 `json:"watchdogThreshold"`

	// Frames carries the Hermite/slerp interpolation degrees and
	// memoization parameters for the transform provider (§4.4).
	Frames frames.Config `json:"frames"`

	// CrossingMaxIterations bounds the mean-plane root finder (§4.7).
	CrossingMaxIterations int `json:"crossingMaxIterations"`

	// CrossingLineAccuracy is the line-number convergence tolerance for
	// the mean-plane crossing solver (§4.7). It must be well under the
	// round-trip line tolerance of §8 (1e-5), since the solver is one
	// stage of that round trip.
	CrossingLineAccuracy float64 `json:"crossingLineAccuracy"`

	// CrossingScalarAccuracy is the convergence tolerance on the plane
	// function's scalar value itself (Normal . direction), independent
	// of the line-number tolerance above (§4.7).
	CrossingScalarAccuracy float64 `json:"crossingScalarAccuracy"`

	// LightTimeCorrection and AberrationCorrection toggle the two
	// physical corrections of §4.6 independently.
	LightTimeCorrection bool `json:"lightTimeCorrection"`
	AberrationCorrection bool `json:"aberrationCorrection"`

	// RefractionGridStep is the spacing, in lines (and, truncated to an
	// int, in pixels), of the offline refraction correction grid built
	// by Engine.BuildRefractionGrid (§4.7). It must be positive before
	// that method is called; DefaultConfig leaves it at zero, since the
	// grid is only meaningful once a refraction table is installed.
	RefractionGridStep float64 `json:"refractionGridStep"`
}

// DefaultConfig returns the engine's nominal operating parameters.
func DefaultConfig() Config {
	return Config{
		TileCacheCapacity:     64,
		WatchdogThreshold:     1000,
		Frames:                frames.DefaultConfig(),
		CrossingMaxIterations:  80,
		CrossingLineAccuracy:   1e-6,
		CrossingScalarAccuracy: 1e-9,
		LightTimeCorrection:    true,
		AberrationCorrection:  true,
		RefractionGridStep:    0,
	}
}

// OvershootTolerance is a convenience accessor matching the teacher's
// pattern of exposing nested config fields used often by name.
func (c Config) OvershootTolerance() time.Duration {
	return c.Frames.OvershootTol
}

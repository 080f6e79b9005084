package sensor

import (
	"time"

	"pushbroom/spatial"
)

// Sensor is a named line sensor (§4.5): a constant position offset in
// the spacecraft frame, a line <-> date mapping, and a per-pixel LOS
// provider.
type Sensor struct {
	Name           string
	PositionOffset spatial.Vector3
	Datation       LineDatation
	LOSProvider    *Provider
}

// NewSensor assembles a sensor from its parts.
func NewSensor(name string, positionOffset spatial.Vector3, datation LineDatation, los *Provider) Sensor {
	return Sensor{Name: name, PositionOffset: positionOffset, Datation: datation, LOSProvider: los}
}

// N returns the pixel count.
func (s Sensor) N() int { return s.LOSProvider.N() }

// LOSAtLine returns the unit LOS in the spacecraft frame for a pixel at
// a (possibly fractional) line number, resolving the acquisition date
// through the datation model and the view direction by linear blending
// between the two bracketing integer pixel indices.
func (s Sensor) LOSAtLine(line float64, pixel float64) (time.Time, spatial.Vector3, error) {
	date := s.Datation.Date(line)
	los, err := s.interpolatedLOS(pixel, date)
	if err != nil {
		return time.Time{}, spatial.Vector3{}, err
	}
	return date, los, nil
}

func (s Sensor) interpolatedLOS(pixel float64, date time.Time) (spatial.Vector3, error) {
	n := s.LOSProvider.N()
	if pixel <= 0 {
		return s.LOSProvider.LOS(0, date)
	}
	if pixel >= float64(n-1) {
		return s.LOSProvider.LOS(n-1, date)
	}
	lo := int(pixel)
	hi := lo + 1
	frac := pixel - float64(lo)

	loLOS, err := s.LOSProvider.LOS(lo, date)
	if err != nil {
		return spatial.Vector3{}, err
	}
	hiLOS, err := s.LOSProvider.LOS(hi, date)
	if err != nil {
		return spatial.Vector3{}, err
	}
	return loLOS.Lerp(hiLOS, frac).Normalize(), nil
}

// Package geo provides coordinate-system conversion and grid generation
// for rectangular sweep areas.
package geo

import (
	"math"

	"github.com/rotisserie/eris"
)

// System identifies a target geodetic reference system for provider
// coordinates. The provider returns GCJ-02, so that system is the
// identity conversion.
type System int

const (
	// GCJ02 leaves provider coordinates untouched.
	GCJ02 System = iota
	// WGS84 applies the inverse of the GCJ-02 obfuscation offset.
	WGS84
	// BD09 converts GCJ-02 to Baidu's BD-09 system.
	BD09
)

const (
	semiMajorAxis = 6378245.0
	eccentricity2 = 0.00669342162296594323
	bdFactor      = math.Pi * 3000.0 / 180.0
)

// ParseSystem maps a configuration value to a System. Unknown values
// are a configuration error, rejected before any network activity.
func ParseSystem(name string) (System, error) {
	switch name {
	case "gcj02", "":
		return GCJ02, nil
	case "wgs84":
		return WGS84, nil
	case "bd09":
		return BD09, nil
	default:
		return 0, eris.Errorf("geo: unknown coordinate system %q (want gcj02, wgs84, or bd09)", name)
	}
}

// String returns the configuration name of the system.
func (s System) String() string {
	switch s {
	case WGS84:
		return "wgs84"
	case BD09:
		return "bd09"
	default:
		return "gcj02"
	}
}

// Transform converts a provider-space (GCJ-02) coordinate pair into the
// target system. It is pure: no I/O, deterministic for all inputs.
func Transform(lng, lat float64, sys System) (float64, float64) {
	switch sys {
	case WGS84:
		return gcj02ToWGS84(lng, lat)
	case BD09:
		return gcj02ToBD09(lng, lat)
	default:
		return lng, lat
	}
}

// gcj02ToWGS84 undoes the GCJ-02 offset by computing the forward
// distortion at the given point and subtracting it. This is the
// standard single-iteration approximation, accurate to a few meters.
func gcj02ToWGS84(lng, lat float64) (float64, float64) {
	dLat := distortLat(lng-105.0, lat-35.0)
	dLng := distortLng(lng-105.0, lat-35.0)

	radLat := lat / 180.0 * math.Pi
	magic := math.Sin(radLat)
	magic = 1 - eccentricity2*magic*magic
	sqrtMagic := math.Sqrt(magic)

	dLat = (dLat * 180.0) / ((semiMajorAxis * (1 - eccentricity2)) / (magic * sqrtMagic) * math.Pi)
	dLng = (dLng * 180.0) / (semiMajorAxis / sqrtMagic * math.Cos(radLat) * math.Pi)

	return lng - dLng, lat - dLat
}

// gcj02ToBD09 applies Baidu's published forward conversion.
func gcj02ToBD09(lng, lat float64) (float64, float64) {
	z := math.Sqrt(lng*lng+lat*lat) + 0.00002*math.Sin(lat*bdFactor)
	theta := math.Atan2(lat, lng) + 0.000003*math.Cos(lng*bdFactor)
	return z*math.Cos(theta) + 0.0065, z*math.Sin(theta) + 0.006
}

func distortLat(x, y float64) float64 {
	ret := -100.0 + 2.0*x + 3.0*y + 0.2*y*y + 0.1*x*y + 0.2*math.Sqrt(math.Abs(x))
	ret += (20.0*math.Sin(6.0*x*math.Pi) + 20.0*math.Sin(2.0*x*math.Pi)) * 2.0 / 3.0
	ret += (20.0*math.Sin(y*math.Pi) + 40.0*math.Sin(y/3.0*math.Pi)) * 2.0 / 3.0
	ret += (160.0*math.Sin(y/12.0*math.Pi) + 320*math.Sin(y*math.Pi/30.0)) * 2.0 / 3.0
	return ret
}

func distortLng(x, y float64) float64 {
	ret := 300.0 + x + 2.0*y + 0.1*x*x + 0.1*x*y + 0.1*math.Sqrt(math.Abs(x))
	ret += (20.0*math.Sin(6.0*x*math.Pi) + 20.0*math.Sin(2.0*x*math.Pi)) * 2.0 / 3.0
	ret += (20.0*math.Sin(x*math.Pi) + 40.0*math.Sin(x/3.0*math.Pi)) * 2.0 / 3.0
	ret += (150.0*math.Sin(x/12.0*math.Pi) + 300.0*math.Sin(x/30.0*math.Pi)) * 2.0 / 3.0
	return ret
}

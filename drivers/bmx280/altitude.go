package bmx280

import "math"

// SeaLevelHPa is the standard atmosphere reference pressure.
const SeaLevelHPa = 1013.25

// Altitude converts a pressure in Pa to metres above the given sea-level
// reference in hPa using the international barometric formula. A
// non-positive reference yields NaN.
func Altitude(pressurePa, seaLevelHPa float64) float64 {
	if seaLevelHPa <= 0 {
		return math.NaN()
	}
	hPa := pressurePa / 100
	return 44330 * (1 - math.Pow(hPa/seaLevelHPa, 0.1903))
}

package actuation

import "time"

// clockSectorAngles maps each four-hour sector of the day to the clock
// servo's target angle. The table is part of the installation's physical
// calibration and must not drift.
var clockSectorAngles = [6]float64{
	-150, // 00:00–03:59
	-90,  // 04:00–07:59
	-30,  // 08:00–11:59
	30,   // 12:00–15:59
	90,   // 16:00–19:59
	150,  // 20:00–23:59
}

// ClockSector returns the sector index for a wall-clock time. Sector
// boundaries are inclusive on the lower edge: 04:00 exactly is sector 1.
func ClockSector(t time.Time) int {
	return t.Hour() / 4
}

// ClockAngle returns the clock servo angle for a wall-clock time,
// independent of reservoir state.
func ClockAngle(t time.Time) float64 {
	return clockSectorAngles[ClockSector(t)]
}

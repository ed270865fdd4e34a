package domain

// Amount prices a booking as hourlyRateCents × minutes / 60, rounded half up to whole cents.
func Amount(hourlyRateCents int64, minutes int) int64 {
	if hourlyRateCents <= 0 || minutes <= 0 {
		return 0
	}
	return (hourlyRateCents*int64(minutes) + 30) / 60
}

package buyexecutor

// alignTickSize rounds a won price down to the nearest KRX tick boundary for
// its price band, grounded on executor._align_tick_size.
func alignTickSize(price float64) float64 {
	var tick float64
	switch {
	case price < 2000:
		tick = 1
	case price < 5000:
		tick = 5
	case price < 20000:
		tick = 10
	case price < 50000:
		tick = 50
	case price < 200000:
		tick = 100
	case price < 500000:
		tick = 500
	default:
		tick = 1000
	}
	return float64(int64(price/tick)) * tick
}

package captcha

import "math"

// Trajectory models a human-like drag over the given distance: constant
// acceleration until 3/4 of the way, then a harder deceleration for the
// rest, sampled at a fixed time step. Each element is an incremental
// pixel offset. The increments always sum to exactly distance — anti-bot
// checks flag overshoot and undershoot, so the final increment is
// corrected (or one appended) after sampling.
func Trajectory(distance int) []int {
	if distance <= 0 {
		return nil
	}

	const (
		step  = 0.2 // sampling interval
		accel = 2.0
		decel = -3.0
	)

	var track []int
	current := 0.0
	mid := float64(distance) * 3 / 4
	v := 0.0

	for current < float64(distance) {
		a := accel
		if current >= mid {
			a = decel
		}
		v0 := v
		v = v0 + a*step
		move := v0*step + 0.5*a*step*step
		current += move
		track = append(track, int(math.Round(move)))
	}

	sum := 0
	for _, m := range track {
		sum += m
	}
	switch {
	case sum > distance:
		track[len(track)-1] -= sum - distance
	case sum < distance:
		track = append(track, distance-sum)
	}
	return track
}

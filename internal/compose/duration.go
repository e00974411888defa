package compose

// FallbackDurationSeconds is the output duration used when no layer carries a
// usable timing signal (all layers looped or still images).
const FallbackDurationSeconds = 10.0

// ResolveDuration computes the overlay output duration.
//
// Precedence:
//  1. the trim master's duration, exactly;
//  2. the longest layer that is neither looped nor a still image;
//  3. FallbackDurationSeconds.
//
// A non-positive maximum in step 2 also falls back. A trim master's duration
// is never replaced, so a still-image trim master yields a zero-length output.
func ResolveDuration(set *LayerSet) float64 {
	if master, ok := set.TrimMaster(); ok {
		return master.Descriptor.DurationSeconds
	}

	longest := 0.0
	for _, l := range set.Layers {
		if l.Loop || l.Descriptor.IsStillImage() {
			continue
		}
		longest = max(longest, l.Descriptor.DurationSeconds)
	}
	if longest <= 0 {
		return FallbackDurationSeconds
	}
	return longest
}

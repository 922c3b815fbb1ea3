package fifoqueue

// filterEffects returns the effects in effects whose dynamic type is T, in
// order. Most commands touch the checkout engine, which always arms or
// cancels the expire_msgs timer (§4.8) alongside whatever else happened, so
// tests assert on the effect they care about by type rather than by
// position or total count.
func filterEffects[T any](effects []Effect) []T {
	var out []T
	for _, e := range effects {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

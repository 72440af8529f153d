package service

// Reconcile compares the current members of a relationship with the desired
// set. Applying toAdd and toRemove to current yields exactly desired.
// Both results keep the order of their input and contain no duplicates.
func Reconcile[K comparable](current, desired []K) (toAdd, toRemove []K) {
	have := make(map[K]bool, len(current))
	for _, k := range current {
		have[k] = true
	}
	want := make(map[K]bool, len(desired))
	for _, k := range desired {
		if want[k] {
			continue
		}
		want[k] = true
		if !have[k] {
			toAdd = append(toAdd, k)
		}
	}
	seen := make(map[K]bool, len(current))
	for _, k := range current {
		if seen[k] {
			continue
		}
		seen[k] = true
		if !want[k] {
			toRemove = append(toRemove, k)
		}
	}
	return toAdd, toRemove
}

// ids maps entities to their IDs.
func ids[T any](items []T, id func(T) string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, id(item))
	}
	return out
}

package overlay

// Next returns the annotation after active, wrapping to the first. With no
// active annotation it selects the first. It returns nil when n is 0.
func Next(active *int, n int) *int {
	if n <= 0 {
		return nil
	}
	next := 0
	if active != nil && *active >= 0 && *active < n-1 {
		next = *active + 1
	}
	return &next
}

// Prev returns the annotation before active, wrapping to the last. With no
// active annotation it selects the last.
func Prev(active *int, n int) *int {
	if n <= 0 {
		return nil
	}
	prev := n - 1
	if active != nil && *active > 0 && *active < n {
		prev = *active - 1
	}
	return &prev
}

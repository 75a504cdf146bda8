package live

// Drain reads from ch until it is closed, discarding all values. Use it to
// release a producer that is still writing to a stream nobody consumes.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}

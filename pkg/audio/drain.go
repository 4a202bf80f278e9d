package audio

// Drain reads from ch until it is closed, discarding every value. Sessions
// only close their audio channel after the producer exits, so a consumer
// that has no use for server audio must still drain it.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}

package async

// Promise runs f in a goroutine and delivers its result on a buffered channel,
// so the goroutine never leaks when nobody reads the result.
func Promise[R any](f func() R) <-chan R {
	out := make(chan R, 1)
	go func() {
		out <- f()
	}()
	return out
}

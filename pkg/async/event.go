package async

import (
	"bufio"
	"os"
)

// EnterKey returns a channel that is closed once a line has been read from
// stdin. Each call starts its own reader, so call it once per program.
func EnterKey() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		bufio.NewReader(os.Stdin).ReadBytes('\n')
		close(done)
	}()
	return done
}

package subscription

import (
	"bytes"
	"runtime"
	"strconv"
)

var goroutinePrefix = []byte("goroutine ")

// goroutineID parses the id of the calling goroutine from the header of its stack trace,
// e.g. "goroutine 18 [running]:". It returns 0 if the header can not be parsed.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	header := bytes.TrimPrefix(buf[:n], goroutinePrefix)
	if end := bytes.IndexByte(header, ' '); end > 0 {
		header = header[:end]
	}

	id, err := strconv.ParseUint(string(header), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

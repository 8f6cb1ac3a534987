package media

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// PrefixReader wraps r so that its first n bytes can be inspected with SamePrefix and
// then read again from the start.
func PrefixReader(r io.Reader, n int) *bufio.Reader {
	return bufio.NewReaderSize(r, n)
}

// SamePrefix reports whether the first n bytes of a and b are equal. Neither reader
// is advanced. Both must have been created by PrefixReader with at least n bytes of
// buffer.
func SamePrefix(a, b *bufio.Reader, n int) (bool, error) {
	pa, err := a.Peek(n)
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	pb, err := b.Peek(n)
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return bytes.Equal(pa, pb), nil
}

package engine

import (
	"bufio"
	"errors"
	"io"
)

// InputSource is a buffered byte stream that tracks how many bits the engine
// has consumed across successive parses.
type InputSource struct {
	r        *bufio.Reader
	consumed int64
}

// NewInputSource wraps r
func NewInputSource(r io.Reader) *InputSource {
	return &InputSource{r: bufio.NewReader(r)}
}

// BitPosition returns the cumulative number of bits consumed
func (in *InputSource) BitPosition() int64 {
	return in.consumed * 8
}

// HasData reports whether at least one more byte is available
func (in *InputSource) HasData() (bool, error) {
	_, err := in.r.Peek(1)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	return false, err
}

// Peek returns the next n bytes without consuming them. Fewer bytes are
// returned at end of input.
func (in *InputSource) Peek(n int) ([]byte, error) {
	b, err := in.r.Peek(n)
	if errors.Is(err, io.EOF) || errors.Is(err, bufio.ErrBufferFull) {
		return b, nil
	}
	return b, err
}

// ReadByte consumes one byte
func (in *InputSource) ReadByte() (byte, error) {
	b, err := in.r.ReadByte()
	if err == nil {
		in.consumed++
	}
	return b, err
}

// Discard consumes n bytes
func (in *InputSource) Discard(n int) (int, error) {
	d, err := in.r.Discard(n)
	in.consumed += int64(d)
	return d, err
}

package gguf

import (
	"bufio"
	"io"
)

// reader buffers header reads and tracks how far into the file it is.
type reader struct {
	br     *bufio.Reader
	offset int64
	bts    []byte
}

func newReader(r io.Reader, size int) *reader {
	return &reader{
		br:  bufio.NewReaderSize(r, size),
		bts: make([]byte, 4096),
	}
}

func (r *reader) Read(p []byte) (int, error) {
	n, err := r.br.Read(p)
	r.offset += int64(n)
	return n, err
}

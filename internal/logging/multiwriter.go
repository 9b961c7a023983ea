package logging

import "io"

// NewMultiWriter duplicates writes across all provided writers.
func NewMultiWriter(writers ...io.Writer) io.Writer {
	return io.MultiWriter(writers...)
}

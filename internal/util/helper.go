package util

import "strconv"

// CloneSlice clones slice with cloneSize.
// This function will use src length as the clone size if cloneSize is 0.
func CloneSlice[T any](src []T, cloneSize int) []T {
	if cloneSize == 0 {
		cloneSize = len(src)
	}
	clone := make([]T, cloneSize)
	copy(clone, src)

	return clone
}

// QuoteBytes renders b as a Go quoted string so control bytes such as
// "\r\n" or "\x03" stay readable in log records.
func QuoteBytes(b []byte) string {
	return strconv.Quote(string(b))
}

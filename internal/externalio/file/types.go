package file

import "io"

// Appends telegram traces as text lines to a file
type OutModule struct {
	sink        io.WriteCloser
	batchBuffer *[]string
}

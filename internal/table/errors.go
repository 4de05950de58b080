package table

import "fmt"

// UnsupportedProtocolError reports that a table's stored Protocol demands
// a reader version newer than this engine implements (§3 invariant 5).
// Never retryable: re-reading the same version will not change it.
type UnsupportedProtocolError struct {
	Path                   string
	MinReaderVersion       int
	SupportedReaderVersion int
}

func (e *UnsupportedProtocolError) Error() string {
	return fmt.Sprintf("table: %s requires reader version %d, this engine supports %d",
		e.Path, e.MinReaderVersion, e.SupportedReaderVersion)
}

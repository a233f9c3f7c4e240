// Package sqltext contains the text-level scanners used on raw SQL dumps:
// marker validation, single-table extraction, and statement splitting. None
// of these are full SQL parsers; they are line and character heuristics tuned
// to the output of mysqldump, pg_dump, and the driver-level fallback dumper.
package sqltext

import (
	"bytes"
	"io"
)

// markerTokens are the substrings whose presence anywhere in a dump marks it
// as SQL. Keywords cover tool and fallback dumps alike; the banner entries
// match the headers mysqldump and pg_dump emit before the first statement.
var markerTokens = [][]byte{
	[]byte("CREATE "),
	[]byte("INSERT "),
	[]byte("COPY "),
	[]byte("MYSQL DUMP"),
	[]byte("POSTGRESQL DATABASE DUMP"),
}

const markerScanChunk = 64 * 1024

// maxMarkerLen bounds the overlap carried between chunks so a token split
// across a chunk boundary is still found.
func maxMarkerLen() int {
	max := 0
	for _, token := range markerTokens {
		if len(token) > max {
			max = len(token)
		}
	}
	return max
}

// HasSQLMarkers reports whether content contains at least one recognizable
// SQL marker token. The check is case-insensitive and not anchored to line
// starts, since dump tools may emit leading metadata or verbose lines.
func HasSQLMarkers(content []byte) bool {
	upper := bytes.ToUpper(content)
	for _, token := range markerTokens {
		if bytes.Contains(upper, token) {
			return true
		}
	}
	return false
}

// HasSQLMarkersReader runs the marker check over a stream without loading it
// into memory, carrying a small overlap across chunk boundaries.
func HasSQLMarkersReader(r io.Reader) (bool, error) {
	overlap := maxMarkerLen() - 1
	buf := make([]byte, markerScanChunk+overlap)
	carried := 0

	for {
		n, err := r.Read(buf[carried:])
		if n > 0 {
			window := buf[:carried+n]
			if HasSQLMarkers(window) {
				return true, nil
			}
			if len(window) > overlap {
				copy(buf, window[len(window)-overlap:])
				carried = overlap
			} else {
				carried = len(window)
			}
		}
		if err == io.EOF {
			return false, nil
		}
		if err != nil {
			return false, err
		}
	}
}

package peextract

import "bytes"

// anchorLiterals are type names known to exist verbatim, NUL-terminated on
// both sides, in every build's .rdata — the entry points for the BFS walk
// in extract.go (spec.md §4.2, C5 "Extraction"). BlobString anchors the
// blob-bearing primitive family; uint32 anchors the plain scalar family —
// between them they are reachable from almost every struct's field list,
// which is what lets the walk discover the rest of the type graph without
// needing to enumerate every descriptor slot in the section.
var anchorLiterals = []string{
	"BlobString",
	"uint32",
}

// findAnchorRVAs scans rdata (the raw bytes of the .rdata section) for each
// anchor literal, NUL-delimited on both sides, and returns the RVA of the
// first byte of the literal (i.e. just past the leading NUL) for each match
// found. Engines intern these strings once, so the first match is the only
// one that matters.
func findAnchorRVAs(rdata []byte, rdataBase uint32) map[string]uint32 {
	found := make(map[string]uint32, len(anchorLiterals))
	for _, lit := range anchorLiterals {
		needle := append([]byte{0}, append([]byte(lit), 0)...)
		idx := bytes.Index(rdata, needle)
		if idx < 0 {
			continue
		}
		found[lit] = rdataBase + uint32(idx) + 1 // +1 skips the leading NUL
	}
	return found
}

// readCString reads a NUL-terminated ASCII string starting at absolute file
// offset off within data.
func readCString(data []byte, off uint32) string {
	end := off
	for int(end) < len(data) && data[end] != 0 {
		end++
	}
	return string(data[off:end])
}

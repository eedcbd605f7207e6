// Package processors implements the typed file processors that run as queued
// jobs: image introspection, PDF text extraction, and CSV schema analysis.
package processors

import "bytes"

// Type families recognized by the sniffer.
const (
	FamilyImage = "image"
	FamilyPDF   = "pdf"
	FamilyCSV   = "csv"
)

// magic lists leading byte signatures per family. WebP needs a secondary
// check because RIFF is shared with WAV/AVI.
var imageMagic = [][]byte{
	{0xFF, 0xD8, 0xFF},                            // JPEG
	{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, // PNG
	[]byte("GIF87a"),
	[]byte("GIF89a"),
	[]byte("BM"), // BMP
}

var pdfMagic = []byte("%PDF-")

// SniffFamily detects the buffer's type family from leading magic bytes.
// Returns "" when nothing matches. CSV has no magic; callers treat
// undetected text as possible CSV.
func SniffFamily(buffer []byte) string {
	for _, m := range imageMagic {
		if bytes.HasPrefix(buffer, m) {
			return FamilyImage
		}
	}
	if len(buffer) >= 12 && bytes.HasPrefix(buffer, []byte("RIFF")) && bytes.Equal(buffer[8:12], []byte("WEBP")) {
		return FamilyImage
	}
	if bytes.HasPrefix(buffer, pdfMagic) {
		return FamilyPDF
	}
	return ""
}

// ValidateBufferType reports whether the buffer's sniffed family matches the
// expected one. Callers decide whether a mismatch is a warning (images,
// best-effort decode) or an error (PDFs, permanent).
func ValidateBufferType(buffer []byte, expectedFamily string) bool {
	family := SniffFamily(buffer)
	if expectedFamily == FamilyCSV {
		// No reliable magic for CSV; accept anything that is not a known
		// binary format.
		return family == ""
	}
	return family == expectedFamily
}

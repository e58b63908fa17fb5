package labels

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"io"
)

var (
	pdfMagic    = []byte("%PDF")
	streamStart = []byte("stream")
	streamEnd   = []byte("endstream")
)

func isPDF(data []byte) bool {
	return bytes.HasPrefix(data, pdfMagic)
}

// pdfContains reports whether the PDF carries needle as text. It scans the
// raw bytes first, then inflates every content stream: label PDFs keep their
// text inside FlateDecode streams.
func pdfContains(data []byte, needle string) bool {
	if needle == "" {
		return false
	}
	n := []byte(needle)
	if bytes.Contains(data, n) {
		return true
	}

	rest := data
	for {
		i := bytes.Index(rest, streamStart)
		if i < 0 {
			return false
		}
		rest = rest[i+len(streamStart):]
		// "stream" is followed by an EOL before the stream bytes.
		if len(rest) > 0 && rest[0] == '\r' {
			rest = rest[1:]
		}
		if len(rest) > 0 && rest[0] == '\n' {
			rest = rest[1:]
		}

		j := bytes.Index(rest, streamEnd)
		if j < 0 {
			return false
		}
		if bytes.Contains(inflate(rest[:j]), n) {
			return true
		}
		rest = rest[j+len(streamEnd):]
	}
}

func inflate(raw []byte) []byte {
	if zr, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
		if b, err := io.ReadAll(io.LimitReader(zr, 16<<20)); err == nil {
			_ = zr.Close()
			return b
		}
		_ = zr.Close()
	}
	fr := flate.NewReader(bytes.NewReader(raw))
	if b, err := io.ReadAll(io.LimitReader(fr, 16<<20)); err == nil {
		_ = fr.Close()
		return b
	}
	_ = fr.Close()
	return nil
}

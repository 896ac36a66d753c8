package session

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

// The bypass transport advertises "gzip, deflate, br" itself, which turns
// off net/http's transparent gzip handling, so encoded bodies land here
// as-is. Gzip is detected by magic bytes rather than the header because
// upstream layers sometimes inflate it already without dropping the
// Content-Encoding header.
func decode(body []byte, encoding string) ([]byte, error) {
	if len(body) == 0 {
		return body, nil
	}

	switch {
	case isGzip(body):
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)

	case strings.Contains(encoding, "br"):
		return io.ReadAll(brotli.NewReader(bytes.NewReader(body)))

	case strings.Contains(encoding, "deflate"):
		// RFC-conformant deflate is zlib-wrapped; some servers send the
		// raw stream instead.
		if zr, err := zlib.NewReader(bytes.NewReader(body)); err == nil {
			defer zr.Close()
			return io.ReadAll(zr)
		}
		fr := flate.NewReader(bytes.NewReader(body))
		defer fr.Close()
		return io.ReadAll(fr)
	}

	return body, nil
}

func isGzip(b []byte) bool {
	return len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b
}

// Package ioutil carries the ambient I/O helpers shared by storage,
// ingest, and parser: compressed stream helpers and a bounded-retry
// helper for transient IOError/ConflictError classes.
package ioutil

import (
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// OpenCompressedWriter returns an io.Writer for filename, or
// os.Stdout if filename is "-". Also returns a closing function to
// defer and any error. If filename ends in ".zst"/".zstd", or useZstd
// is true, the writer zstd-compresses its output.
func OpenCompressedWriter(filename string, useZstd bool) (io.Writer, func(), error) {
	var writer io.Writer
	var closer io.Closer
	fileCloser := func() {
		if closer != nil {
			closer.Close()
		}
	}
	if filename != "-" {
		file, err := os.Create(filename)
		if err != nil {
			return nil, nil, err
		}
		writer, closer = file, file
	} else {
		writer, closer = os.Stdout, nil
	}

	if useZstd || strings.HasSuffix(filename, ".zst") || strings.HasSuffix(filename, ".zstd") {
		zstdWriter, err := zstd.NewWriter(writer)
		if err != nil {
			fileCloser()
			return nil, nil, err
		}
		zstdCloser := func() {
			zstdWriter.Close()
			fileCloser()
		}
		return zstdWriter, zstdCloser, nil
	}
	return writer, fileCloser, nil
}

// OpenCompressedReader returns an io.Reader for filename, or
// os.Stdin if filename is "-". Also returns an io.Closer to defer.
// If filename ends in ".zst"/".zstd", or useZstd is true, the reader
// zstd-decompresses its input.
func OpenCompressedReader(filename string, useZstd bool) (io.Reader, io.Closer, error) {
	var reader io.Reader
	var closer io.Closer

	if filename != "-" {
		file, err := os.Open(filename)
		if err != nil {
			return nil, nil, err
		}
		reader, closer = file, file
	} else {
		reader, closer = os.Stdin, nil
	}

	if useZstd || strings.HasSuffix(filename, ".zst") || strings.HasSuffix(filename, ".zstd") {
		zr, err := zstd.NewReader(reader)
		if err != nil {
			if closer != nil {
				closer.Close()
			}
			return nil, nil, err
		}
		return zr.IOReadCloser(), closer, nil
	}
	return reader, closer, nil
}

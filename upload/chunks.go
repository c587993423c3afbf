package upload

import (
	"fmt"
	"io"
	"os"
)

// chunkReader reads chunks of a file at arbitrary offsets.
type chunkReader struct {
	file      *os.File
	size      int64
	chunkSize int64
	buf       []byte
}

// openChunkReader never reads past size, even if the file grows while uploading.
func openChunkReader(path string, size, chunkSize int64) (*chunkReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return &chunkReader{
		file:      file,
		size:      size,
		chunkSize: chunkSize,
	}, nil
}

// ReadAt returns up to chunkSize bytes starting at offset, or nothing at the end of the target.
// The returned slice is reused by the next call.
func (r *chunkReader) ReadAt(offset int64) ([]byte, error) {
	length := r.size - offset
	if length <= 0 {
		return nil, nil
	}
	if length > r.chunkSize {
		length = r.chunkSize
	}
	if r.buf == nil {
		r.buf = make([]byte, r.chunkSize)
	}

	n, err := io.ReadFull(io.NewSectionReader(r.file, offset, length), r.buf[:length])
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("file shrank while uploading: read %d of %d bytes at offset %d", n, length, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("read chunk at offset %d: %w", offset, err)
	}

	return r.buf[:n], nil
}

// Close closes the underlying file.
func (r *chunkReader) Close() error {
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}

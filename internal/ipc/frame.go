// Package ipc implements the pipe transport shared between a task process
// and its companion: length-prefixed frames written in a single write call
// so concurrent writers on one pipe never interleave, plus a one-shot latch
// for cross-process signaling.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// headerLen is the size of the big-endian length prefix.
const headerLen = 4

// maxFrameLen rejects corrupt headers before allocating.
const maxFrameLen = 64 << 20

// ErrFrameTooLarge is returned for frames exceeding maxFrameLen.
var ErrFrameTooLarge = errors.New("ipc: frame exceeds size limit")

// FramedWriter writes frames to a pipe. Header and payload are
// concatenated and written with one Write so frames up to PIPE_BUF stay
// atomic between writers in different processes; the mutex serializes
// writers within this process for larger frames.
type FramedWriter struct {
	mu sync.Mutex
	f  *os.File
}

// NewFramedWriter wraps the write end of a pipe.
func NewFramedWriter(f *os.File) *FramedWriter {
	return &FramedWriter{f: f}
}

// WriteFrame writes one frame.
func (w *FramedWriter) WriteFrame(payload []byte) error {
	if len(payload) > maxFrameLen {
		return ErrFrameTooLarge
	}
	buf := make([]byte, headerLen+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[headerLen:], payload)

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.f.Write(buf)
	return err
}

// File exposes the underlying pipe end for inheritance via ExtraFiles.
func (w *FramedWriter) File() *os.File { return w.f }

// Close closes the write end, delivering io.EOF to the reader.
func (w *FramedWriter) Close() error { return w.f.Close() }

// FramedReader reads frames from a pipe. Single-reader only.
type FramedReader struct {
	f *os.File
}

// NewFramedReader wraps the read end of a pipe.
func NewFramedReader(f *os.File) *FramedReader {
	return &FramedReader{f: f}
}

// ReadFrame blocks for the next frame. Returns io.EOF once all writers
// closed their end.
func (r *FramedReader) ReadFrame() ([]byte, error) {
	var header [headerLen]byte
	if _, err := io.ReadFull(r.f, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r.f, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Readable reports whether at least one byte is waiting on the pipe, via a
// zero-timeout poll on the descriptor. Best-effort: probe failures count
// as not readable.
func (r *FramedReader) Readable() bool {
	return fdReadable(r.f.Fd())
}

// File exposes the underlying pipe end for inheritance via ExtraFiles.
func (r *FramedReader) File() *os.File { return r.f }

// Close closes the read end.
func (r *FramedReader) Close() error { return r.f.Close() }

// fdReadable polls fd with a zero timeout. poll(2) has no descriptor-value
// cap, unlike select(2).
func fdReadable(fd uintptr) bool {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, 0)
		if err == unix.EINTR {
			continue
		}
		return err == nil && n > 0 && fds[0].Revents&unix.POLLIN != 0
	}
}

// Pipe couples the two ends of one pipe: the writer side used by report
// producers and the reader side drained by the relay. Both ends stay open
// in both processes, matching the semantics of a forked queue.
type Pipe struct {
	*FramedReader
	*FramedWriter
}

// NewPipe creates a framed pipe.
func NewPipe() (*Pipe, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("ipc: create pipe: %w", err)
	}
	return &Pipe{FramedReader: NewFramedReader(r), FramedWriter: NewFramedWriter(w)}, nil
}

// PipeFromFiles rebuilds a Pipe around inherited descriptors.
func PipeFromFiles(r, w *os.File) *Pipe {
	return &Pipe{FramedReader: NewFramedReader(r), FramedWriter: NewFramedWriter(w)}
}

// Close closes both ends.
func (p *Pipe) Close() error {
	werr := p.FramedWriter.Close()
	rerr := p.FramedReader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// InheritedFile reopens ExtraFiles slot n of the current process
// (descriptor 3+n) for use in a companion process.
func InheritedFile(slot int, name string) *os.File {
	return os.NewFile(uintptr(3+slot), name)
}

// deadline helper shared by latch and control polling.
func absDeadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

package monitor

import (
	"bytes"
	"encoding/gob"
	"os"
	"time"

	"github.com/AH-Merii/clearml/internal/ipc"
)

// The control link is the pair of framed pipes connecting parent and
// companion. The parent sends stop requests down; the companion sends
// per-monitor started/done confirmations up. It replaces the shared
// process events a forked child would inherit.

type msgKind uint8

const (
	msgStarted msgKind = iota + 1
	msgDone
	msgStop
)

type message struct {
	Kind    msgKind
	Monitor string
}

type controlLink struct {
	r *ipc.FramedReader
	w *ipc.FramedWriter
}

func newControlLink(r, w *os.File) *controlLink {
	return &controlLink{r: ipc.NewFramedReader(r), w: ipc.NewFramedWriter(w)}
}

// send is best-effort: a vanished peer is detected elsewhere and must not
// fail the signaling path.
func (l *controlLink) send(m message) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return
	}
	l.w.WriteFrame(buf.Bytes()) //nolint:errcheck
}

func (l *controlLink) recv() (message, error) {
	frame, err := l.r.ReadFrame()
	if err != nil {
		return message{}, err
	}
	var m message
	if err := gob.NewDecoder(bytes.NewReader(frame)).Decode(&m); err != nil {
		return message{}, err
	}
	return m, nil
}

func (l *controlLink) close() {
	l.r.Close() //nolint:errcheck
	l.w.Close() //nolint:errcheck
}

// manifest is the bootstrap message written to the companion's setup pipe:
// which monitors to host, at what periods, and who the parent is.
type manifest struct {
	TaskID      string
	ParentPID   int
	Monitors    []manifestEntry
	ReportSlots int
}

type manifestEntry struct {
	Name   string
	Period time.Duration
}

func writeManifest(f *os.File, m manifest) error {
	return gob.NewEncoder(f).Encode(m)
}

func readManifest(f *os.File) (manifest, error) {
	var m manifest
	err := gob.NewDecoder(f).Decode(&m)
	return m, err
}

package ipc

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestFrameRoundTrip(t *testing.T) {
	p, err := NewPipe()
	if err != nil {
		t.Fatal(err)
	}
	defer p.FramedReader.Close()

	payloads := [][]byte{[]byte("a"), []byte(""), bytes.Repeat([]byte("x"), 4096)}
	for _, want := range payloads {
		if err := p.WriteFrame(want); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
		got, err := p.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("frame mismatch: got %d bytes, want %d", len(got), len(want))
		}
	}
}

func TestConcurrentWritersNoInterleave(t *testing.T) {
	p, err := NewPipe()
	if err != nil {
		t.Fatal(err)
	}

	const writers, frames = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			payload := bytes.Repeat([]byte{byte('A' + w)}, 512)
			for i := 0; i < frames; i++ {
				if err := p.WriteFrame(payload); err != nil {
					t.Errorf("writer %d: %v", w, err)
					return
				}
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		p.FramedWriter.Close()
		close(done)
	}()

	seen := 0
	for {
		frame, err := p.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if len(frame) != 512 {
			t.Fatalf("torn frame: %d bytes", len(frame))
		}
		for _, b := range frame {
			if b != frame[0] {
				t.Fatal("interleaved frame payload")
			}
		}
		seen++
	}
	<-done
	if seen != writers*frames {
		t.Fatalf("read %d frames, want %d", seen, writers*frames)
	}
}

func TestReadable(t *testing.T) {
	p, err := NewPipe()
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if p.Readable() {
		t.Fatal("empty pipe reported readable")
	}
	if err := p.WriteFrame([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	if !p.Readable() {
		t.Fatal("pipe with a pending frame reported empty")
	}
	if _, err := p.ReadFrame(); err != nil {
		t.Fatal(err)
	}
	if p.Readable() {
		t.Fatal("drained pipe reported readable")
	}
}

func TestReadableHighDescriptor(t *testing.T) {
	p, err := NewPipe()
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	// descriptors past the select(2) range must still probe correctly
	const highFD = 2048
	if err := unix.Dup2(int(p.FramedReader.File().Fd()), highFD); err != nil {
		t.Skipf("dup2 to %d: %v", highFD, err)
	}
	high := NewFramedReader(os.NewFile(uintptr(highFD), "high-read-end"))
	defer high.Close()

	if high.Readable() {
		t.Fatal("empty pipe reported readable")
	}
	if err := p.WriteFrame([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	if !high.Readable() {
		t.Fatal("pending frame invisible through a high descriptor")
	}
}

func TestLatch(t *testing.T) {
	l, err := NewLatch()
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	if l.IsSet() {
		t.Fatal("new latch is set")
	}
	if l.Wait(20 * time.Millisecond) {
		t.Fatal("Wait on unset latch returned true")
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		l.Set()
	}()
	if !l.Wait(2 * time.Second) {
		t.Fatal("Wait never observed Set")
	}
	if !l.IsSet() {
		t.Fatal("IsSet false after observed Set")
	}
}

func TestLatchAcrossEnds(t *testing.T) {
	l, err := NewLatch()
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	// simulate the two processes holding opposite ends
	setter := LatchFromFiles(nil, l.WriteFile())
	waiter := LatchFromFiles(l.ReadFile(), nil)

	setter.Set()
	if !waiter.Wait(2 * time.Second) {
		t.Fatal("waiter end never observed the signal")
	}
}

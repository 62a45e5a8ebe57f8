// Package testutil provides in-memory doubles shared by package tests.
package testutil

import (
	"encoding/json"
	"errors"
	"sync"
)

// ErrFakeClosed is returned by a closed FakeHandle.
var ErrFakeClosed = errors.New("fake handle closed")

// Frame is a decoded outbound frame captured by a FakeHandle.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// FakeHandle records every frame sent to it. SendErr makes Send fail.
type FakeHandle struct {
	id string

	mu      sync.Mutex
	userID  string
	frames  [][]byte
	closed  bool
	SendErr error
}

// NewFakeHandle creates a handle with the given connection ID.
func NewFakeHandle(id string) *FakeHandle {
	return &FakeHandle{id: id}
}

func (f *FakeHandle) ID() string { return f.id }

func (f *FakeHandle) UserID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userID
}

func (f *FakeHandle) Bind(userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userID != "" && f.userID != userID {
		return errors.New("already bound")
	}
	f.userID = userID
	return nil
}

func (f *FakeHandle) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrFakeClosed
	}
	if f.SendErr != nil {
		return f.SendErr
	}
	f.frames = append(f.frames, append([]byte(nil), frame...))
	return nil
}

func (f *FakeHandle) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Frames returns the decoded frames received so far.
func (f *FakeHandle) Frames() []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Frame, 0, len(f.frames))
	for _, raw := range f.frames {
		var fr Frame
		if err := json.Unmarshal(raw, &fr); err == nil {
			out = append(out, fr)
		}
	}
	return out
}

// Events returns the event names received so far, in order.
func (f *FakeHandle) Events() []string {
	frames := f.Frames()
	out := make([]string, len(frames))
	for i, fr := range frames {
		out[i] = fr.Event
	}
	return out
}

// Count returns how many frames named event were received.
func (f *FakeHandle) Count(event string) int {
	n := 0
	for _, name := range f.Events() {
		if name == event {
			n++
		}
	}
	return n
}

// Reset forgets captured frames.
func (f *FakeHandle) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

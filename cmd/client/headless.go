package main

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/arqut/arqut-desk/internal/pkg/models"
	"github.com/arqut/arqut-desk/internal/video"
)

// The CLI has no screen, keyboard or speaker. These collaborators stand in
// for them so every channel of a session can be exercised from a terminal.

// fileCapture streams the current contents of a file as the screen
type fileCapture struct {
	path string
}

func (f *fileCapture) Capture() ([]byte, error) {
	return os.ReadFile(f.path)
}

// fileDisplay writes each received frame to a file
type fileDisplay struct {
	path   string
	logger *slog.Logger
	frames atomic.Int64
}

func (d *fileDisplay) ShowFrame(f video.Frame) {
	if err := os.WriteFile(d.path, f.Data, 0644); err != nil {
		d.logger.Warn("Failed to write frame", "path", d.path, "error", err)
		return
	}
	if d.frames.Add(1) == 1 {
		d.logger.Info("First frame received", "from", f.SenderID, "bytes", len(f.Data))
	}
}

// logInput logs injected input events
type logInput struct {
	logger *slog.Logger
}

func (l *logInput) Inject(ev models.ControlPayload) error {
	l.logger.Info("Input event", "action", ev.ActionType, "x", ev.X, "y", ev.Y, "button", ev.Button, "key", ev.KeyCode)
	return nil
}

// memClipboard is a process-local clipboard
type memClipboard struct {
	mu   sync.Mutex
	text string
}

func (m *memClipboard) ReadText() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text, nil
}

func (m *memClipboard) WriteText(text string) error {
	m.Apply(text)
	return nil
}

func (m *memClipboard) Apply(text string) {
	m.mu.Lock()
	m.text = text
	m.mu.Unlock()
}

// countingAudio discards audio and counts bytes
type countingAudio struct {
	bytes atomic.Int64
}

func (a *countingAudio) Play(data []byte) error {
	a.bytes.Add(int64(len(data)))
	return nil
}

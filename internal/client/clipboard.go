package client

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// clipboardSync polls the local clipboard and sends changed text. Text
// applied from the partner becomes the last seen value, so it is never
// echoed back.
type clipboardSync struct {
	accessor ClipboardAccessor
	interval time.Duration
	send     func(text string) error
	logger   *slog.Logger

	last string
	mu   sync.Mutex
}

func newClipboardSync(accessor ClipboardAccessor, interval time.Duration, send func(string) error, logger *slog.Logger) *clipboardSync {
	return &clipboardSync{
		accessor: accessor,
		interval: interval,
		send:     send,
		logger:   logger,
	}
}

func (w *clipboardSync) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.poll()
		}
	}
}

// poll sends the clipboard text if it changed since the last poll or apply
func (w *clipboardSync) poll() {
	text, err := w.accessor.ReadText()
	if err != nil {
		w.logger.Debug("Clipboard read failed", "error", err)
		return
	}

	w.mu.Lock()
	if text == "" || text == w.last {
		w.mu.Unlock()
		return
	}
	w.last = text
	w.mu.Unlock()

	if err := w.send(text); err != nil {
		w.logger.Debug("Clipboard not sent", "error", err)
	}
}

// Apply writes remote text to the local clipboard
func (w *clipboardSync) Apply(text string) {
	w.mu.Lock()
	w.last = text
	w.mu.Unlock()

	if err := w.accessor.WriteText(text); err != nil {
		w.logger.Warn("Clipboard write failed", "error", err)
	}
}

package client

import (
	"github.com/arqut/arqut-desk/internal/pkg/models"
	"github.com/arqut/arqut-desk/internal/video"
)

// CaptureSource produces compressed screen frames on demand. A nil frame
// skips the tick.
type CaptureSource = video.FrameSource

// DisplaySink receives reassembled frames from the partner
type DisplaySink interface {
	ShowFrame(f video.Frame)
}

// InputSink injects validated input events on the local machine
type InputSink interface {
	Inject(ev models.ControlPayload) error
}

// ClipboardAccessor reads and writes the local clipboard text
type ClipboardAccessor interface {
	ReadText() (string, error)
	WriteText(text string) error
}

// AudioSink plays raw audio received from the partner
type AudioSink interface {
	Play(data []byte) error
}

// Collaborators are the platform integrations a client drives. Any of them
// may be nil; the matching feature is then inactive.
type Collaborators struct {
	Capture   CaptureSource
	Display   DisplaySink
	Input     InputSink
	Clipboard ClipboardAccessor
	Audio     AudioSink
}

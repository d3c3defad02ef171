package client

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/arqut/arqut-desk/internal/pkg/models"
)

// ErrInvalidControl is returned for input events outside the accepted ranges
var ErrInvalidControl = errors.New("invalid control event")

// ValidateControl checks an input event before it is sent or injected
func ValidateControl(ev *models.ControlPayload) error {
	switch ev.ActionType {
	case models.ActionMouseMove, models.ActionMousePress, models.ActionMouseRelease:
		if !unitRange(ev.X) || !unitRange(ev.Y) {
			return fmt.Errorf("%w: position (%v, %v) outside [0,1]", ErrInvalidControl, ev.X, ev.Y)
		}
		if ev.ActionType != models.ActionMouseMove &&
			(ev.Button < models.ButtonLeft || ev.Button > models.ButtonRight) {
			return fmt.Errorf("%w: button %d", ErrInvalidControl, ev.Button)
		}
	case models.ActionKeyPress, models.ActionKeyRelease:
		if ev.KeyCode < 0 {
			return fmt.Errorf("%w: key code %d", ErrInvalidControl, ev.KeyCode)
		}
	default:
		return fmt.Errorf("%w: action %d", ErrInvalidControl, ev.ActionType)
	}
	return nil
}

func unitRange(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && f >= 0 && f <= 1
}

// controlExecutor hands validated remote input to the input sink
type controlExecutor struct {
	sink   InputSink
	logger *slog.Logger
}

func (e *controlExecutor) Execute(ev *models.ControlPayload) {
	if err := ValidateControl(ev); err != nil {
		e.logger.Warn("Dropping control event", "error", err)
		return
	}
	if e.sink == nil {
		return
	}
	if err := e.sink.Inject(*ev); err != nil {
		e.logger.Warn("Input injection failed", "action", ev.ActionType, "error", err)
	}
}

package vto

import (
	"fmt"
	"time"

	"github.com/teslashibe/go-tryon/pkg/catalog"
)

// State is the widget lifecycle state.
type State int

const (
	Idle State = iota
	Loading
	Polling
	Starting
	Ready
	AdjustMode
	Error
	DemoFallback
)

var stateNames = [...]string{
	Idle:         "idle",
	Loading:      "loading",
	Polling:      "polling",
	Starting:     "starting",
	Ready:        "ready",
	AdjustMode:   "adjust_mode",
	Error:        "error",
	DemoFallback: "demo_fallback",
}

// String returns the state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("vto: unknown state %q", b)
}

// Booting reports whether s is part of the boot sequence.
func (s State) Booting() bool {
	return s == Loading || s == Polling || s == Starting
}

// Snapshot is everything an observer needs to render the widget.
type Snapshot struct {
	Session      string                 `json:"session"`
	State        State                  `json:"state"`
	Frame        catalog.FrameSelection `json:"frame"`
	Model        string                 `json:"model"`
	ModelLoading bool                   `json:"model_loading"`
	Err          *Failure               `json:"error,omitempty"`
	Retry        RetryContext           `json:"retry"`
	Generation   uint64                 `json:"generation"`
	Controls     Controls               `json:"controls"`
	At           time.Time              `json:"at"`
}

// CanAddToCart reports whether the purchase button is enabled. Only a
// live error blocks it; demo fallback keeps checkout reachable.
func (s Snapshot) CanAddToCart() bool {
	return s.State != Error
}

// Controls is the visible control surface, derived only from a snapshot.
type Controls struct {
	ShowLoading  bool   `json:"show_loading"`
	LoadingText  string `json:"loading_text,omitempty"`
	LoadingHint  string `json:"loading_hint,omitempty"`
	ModelLoading bool   `json:"model_loading"`

	ShowError    bool   `json:"show_error"`
	ErrorMessage string `json:"error_message,omitempty"`
	ShowRetry    bool   `json:"show_retry"`
	RetryEnabled bool   `json:"retry_enabled"`
	RetryLabel   string `json:"retry_label,omitempty"`
	ShowDemo     bool   `json:"show_demo"`
	Unavailable  string `json:"unavailable_notice,omitempty"`

	ShowAdjustEnter   bool   `json:"show_adjust_enter"`
	ShowAdjustOverlay bool   `json:"show_adjust_overlay"`
	AdjustText        string `json:"adjust_text,omitempty"`
	ShowModelSwitch   bool   `json:"show_model_switch"`

	ShowDemoOverlay bool   `json:"show_demo_overlay"`
	DemoText        string `json:"demo_text,omitempty"`

	CartEnabled bool   `json:"cart_enabled"`
	CartLabel   string `json:"cart_label"`
}

// DeriveControls computes the controls for s.
func DeriveControls(s Snapshot) Controls {
	c := Controls{
		CartEnabled: s.CanAddToCart(),
		CartLabel:   fmt.Sprintf("Add to Cart - RM%d", s.Frame.Price),
	}

	switch s.State {
	case Idle, Loading, Polling, Starting:
		c.ShowLoading = true
		c.LoadingText = "Initializing Virtual Try-On..."
		c.LoadingHint = "Please allow camera access when prompted"

	case Ready:
		c.ShowAdjustEnter = true
		c.ShowModelSwitch = true
		c.ModelLoading = s.ModelLoading
		if s.ModelLoading {
			c.LoadingText = "Loading Frame Model..."
		}

	case AdjustMode:
		c.ShowAdjustOverlay = true
		c.AdjustText = "Move the glasses to adjust their position and fit"
		c.ModelLoading = s.ModelLoading

	case Error:
		c.ShowError = true
		if s.Err != nil {
			c.ErrorMessage = s.Err.Message()
		}
		c.ShowRetry = true
		c.RetryEnabled = s.Retry.CanRetry()
		if c.RetryEnabled {
			c.RetryLabel = fmt.Sprintf("Try Again (%d/%d)", s.Retry.Count, s.Retry.Max)
		} else {
			c.RetryLabel = "Max Retries Reached"
			c.ShowDemo = true
		}
		c.CartLabel = "Try-On Unavailable"
		c.Unavailable = "Virtual try-on is temporarily unavailable, but you can still purchase this item based on the product details and your preferences."

	case DemoFallback:
		c.ShowDemoOverlay = true
		c.DemoText = fmt.Sprintf("Virtual try-on simulation - Experience how %s would look on you!", s.Frame.Name)
	}

	return c
}

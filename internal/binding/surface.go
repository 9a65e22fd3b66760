package binding

import (
	"fmt"

	"github.com/clipcast/clipcast/backend/account-service/internal/platform"
)

// Popup geometry the consent flow is opened with. The flow must not
// navigate the host application away, so it always gets its own fixed-size
// browsing context.
const (
	PopupWidth  = 600
	PopupHeight = 700
)

// Surface opens the OAuth consent flow out-of-line from the main
// application view. Implementations range from "hand the URL to the web
// client" to a desktop embedder driving a real window.
type Surface interface {
	Open(p platform.Platform, authorizeURL string) error
}

// SurfaceFunc adapts a function to the Surface interface.
type SurfaceFunc func(p platform.Platform, authorizeURL string) error

func (f SurfaceFunc) Open(p platform.Platform, authorizeURL string) error {
	return f(p, authorizeURL)
}

// PopupBlockedError means the authorization surface could not be opened.
// Surfaced distinctly so the caller can prompt the user to allow popups.
type PopupBlockedError struct {
	Platform platform.Platform
	Err      error
}

func (e *PopupBlockedError) Error() string {
	return fmt.Sprintf("authorization surface for %s could not be opened: %v", e.Platform, e.Err)
}

func (e *PopupBlockedError) Unwrap() error { return e.Err }

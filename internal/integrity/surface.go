package integrity

import (
	"context"
	"errors"
	"strings"
)

// ErrPermissionDenied is returned by Surface.RequestFullscreen when the host
// refuses exclusive presentation.
var ErrPermissionDenied = errors.New("fullscreen permission denied")

// ErrRequestPending is returned by Surface.RequestFullscreen while an earlier
// request is still unanswered. The monitor keeps its state.
var ErrRequestPending = errors.New("fullscreen request already pending")

// Platform identifies the host environment family reported by the surface.
type Platform string

const (
	PlatformChromium    Platform = "chromium"
	PlatformFirefox     Platform = "firefox"
	PlatformSafari      Platform = "safari"
	PlatformIOS         Platform = "ios"
	PlatformMacOSWebKit Platform = "macos-webkit"
	PlatformUnknown     Platform = "unknown"
)

// ParsePlatform maps a client-reported name to a Platform.
func ParsePlatform(s string) Platform {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case PlatformChromium, PlatformFirefox, PlatformSafari, PlatformIOS, PlatformMacOSWebKit:
		return p
	case "chrome", "edge", "opera":
		return PlatformChromium
	default:
		return PlatformUnknown
	}
}

// underReporting lists platforms whose fullscreen change notifications are
// unreliable. Only these get the geometry fallback.
var underReporting = map[Platform]bool{
	PlatformSafari:      true,
	PlatformIOS:         true,
	PlatformMacOSWebKit: true,
}

// Geometry is the host window and screen size in CSS pixels.
type Geometry struct {
	WindowWidth  int `json:"window_width"`
	WindowHeight int `json:"window_height"`
	ScreenWidth  int `json:"screen_width"`
	ScreenHeight int `json:"screen_height"`
}

// geometryTolerance absorbs toolbars and rounding on high-DPI screens.
const geometryTolerance = 2

// CoversScreen reports whether the window fills the screen.
func (g Geometry) CoversScreen() bool {
	if g.ScreenWidth <= 0 || g.ScreenHeight <= 0 {
		return false
	}
	return g.WindowWidth+geometryTolerance >= g.ScreenWidth &&
		g.WindowHeight+geometryTolerance >= g.ScreenHeight
}

// Surface is the host presentation capability the monitor drives.
type Surface interface {
	RequestFullscreen(ctx context.Context) error
	ExitFullscreen(ctx context.Context) error
	IsFullscreen() bool
	Geometry() Geometry
	Platform() Platform
	// RequiresPermission reports whether the host asks the user before
	// granting fullscreen.
	RequiresPermission() bool
}

// Package browser provides the browser capabilities an operator drives
// remotely, and the chromedp-backed driver behind them.
//
//	create_driver ──► Factory ──► Driver ──► runctx.Run handle
//	                                 └─────► capture.Hub producer (screenshots)
//	click / send_keys / ... ──► run handle ──► Driver
package browser

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// Locator finds one element. Type is one of id, css, xpath, name.
type Locator struct {
	Type  string
	Value string
}

func (l Locator) String() string {
	return l.Type + "=" + l.Value
}

// ParseLocator validates a locator type and value pair.
func ParseLocator(locatorType, value string) (Locator, error) {
	t := strings.ToLower(strings.TrimSpace(locatorType))
	switch t {
	case "id", "css", "xpath", "name":
	case "css selector":
		t = "css"
	default:
		return Locator{}, fmt.Errorf("unsupported locator type %q (want id, css, xpath or name)", locatorType)
	}
	if value == "" {
		return Locator{}, fmt.Errorf("empty %s locator", t)
	}
	return Locator{Type: t, Value: value}, nil
}

// Driver is one browser session. Implementations must allow CaptureFrame
// to run concurrently with the other methods.
type Driver interface {
	io.Closer

	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	PageHTML(ctx context.Context) (string, error)
	Maximize(ctx context.Context) error
	AddCookie(ctx context.Context, name, value string) error

	SendKeys(ctx context.Context, loc Locator, text string) error
	WaitVisible(ctx context.Context, loc Locator, timeout time.Duration) error
	WaitAbsent(ctx context.Context, loc Locator, timeout time.Duration) error
	ScrollIntoView(ctx context.Context, loc Locator) error
	Click(ctx context.Context, loc Locator) error
	DoubleClick(ctx context.Context, loc Locator) error
	RightClick(ctx context.Context, loc Locator) error

	// SwitchTab moves to a tab other than the current one.
	SwitchTab(ctx context.Context) error
	// SwitchFrame enters a frame by name, id or zero-based index.
	SwitchFrame(ctx context.Context, frame string) error
	SwitchFrameByLocator(ctx context.Context, loc Locator) error
	SwitchToDefault(ctx context.Context) error

	// CaptureFrame returns an encoded screenshot of the current tab.
	CaptureFrame(ctx context.Context) ([]byte, error)
}

// Factory starts a new browser session.
type Factory func(ctx context.Context) (Driver, error)

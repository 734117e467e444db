package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ChromeOptions configures ChromeDriver.
type ChromeOptions struct {
	Headless      bool
	WindowWidth   int
	WindowHeight  int
	StartURL      string
	JPEGQuality   int           // 1-100
	ActionTimeout time.Duration // Upper bound for a single element action
	ExtraFlags    map[string]any
}

// DefaultChromeOptions returns headless defaults.
func DefaultChromeOptions() ChromeOptions {
	return ChromeOptions{
		Headless:      true,
		WindowWidth:   1920,
		WindowHeight:  1080,
		StartURL:      "about:blank",
		JPEGQuality:   70,
		ActionTimeout: 10 * time.Second,
	}
}

// ChromeDriver drives one Chrome instance through the DevTools protocol.
type ChromeDriver struct {
	opts   ChromeOptions
	logger *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu         sync.RWMutex
	tabCtx     context.Context
	tabCancels []context.CancelFunc
	frame      *cdp.Node // nil while on the top-level document
	closed     bool
}

// NewChromeFactory returns a Factory launching a ChromeDriver per call.
func NewChromeFactory(opts ChromeOptions, logger *zap.Logger) Factory {
	return func(ctx context.Context) (Driver, error) {
		return NewChromeDriver(ctx, opts, logger)
	}
}

// NewChromeDriver launches Chrome and opens the start URL.
func NewChromeDriver(ctx context.Context, opts ChromeOptions, logger *zap.Logger) (*ChromeDriver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultChromeOptions()
	if opts.WindowWidth <= 0 || opts.WindowHeight <= 0 {
		opts.WindowWidth, opts.WindowHeight = defaults.WindowWidth, defaults.WindowHeight
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = defaults.JPEGQuality
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = defaults.ActionTimeout
	}
	if opts.StartURL == "" {
		opts.StartURL = defaults.StartURL
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-user-media-security", true),
	)
	for k, v := range opts.ExtraFlags {
		allocOpts = append(allocOpts, chromedp.Flag(k, v))
	}

	// The browser outlives the call that created it.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	d := &ChromeDriver{
		opts:          opts,
		logger:        logger.With(zap.String("component", "chrome")),
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		tabCtx:        browserCtx,
	}

	if err := chromedp.Run(browserCtx); err != nil {
		d.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	if err := d.Navigate(ctx, opts.StartURL); err != nil {
		d.Close()
		return nil, err
	}

	d.logger.Info("browser started", zap.Bool("headless", opts.Headless))
	return d, nil
}

// run executes actions on the current tab, bounded by the action timeout
// and by the caller's ctx.
func (d *ChromeDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return errors.New("browser is closed")
	}
	tab := d.tabCtx
	d.mu.RUnlock()

	runCtx, cancel := context.WithTimeout(tab, d.opts.ActionTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

// query builds the chromedp options selecting loc inside the current frame.
func (d *ChromeDriver) query(loc Locator) (string, []chromedp.QueryOption, error) {
	d.mu.RLock()
	frame := d.frame
	d.mu.RUnlock()

	var opts []chromedp.QueryOption
	sel := loc.Value
	switch loc.Type {
	case "id":
		opts = append(opts, chromedp.ByID)
	case "css":
		opts = append(opts, chromedp.ByQuery)
	case "xpath":
		opts = append(opts, chromedp.BySearch)
	case "name":
		sel = "[name=" + cssString(loc.Value) + "]"
		opts = append(opts, chromedp.ByQuery)
	default:
		return "", nil, fmt.Errorf("unsupported locator type %q", loc.Type)
	}
	if frame != nil {
		opts = append(opts, chromedp.FromNode(frame))
	}
	return sel, opts, nil
}

func cssString(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

func (d *ChromeDriver) Navigate(ctx context.Context, url string) error {
	if err := d.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	d.mu.Lock()
	d.frame = nil
	d.mu.Unlock()
	return nil
}

func (d *ChromeDriver) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := d.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("current url: %w", err)
	}
	return url, nil
}

func (d *ChromeDriver) PageHTML(ctx context.Context) (string, error) {
	sel, opts, _ := d.query(Locator{Type: "css", Value: "html"})
	var html string
	if err := d.run(ctx, chromedp.OuterHTML(sel, &html, opts...)); err != nil {
		return "", fmt.Errorf("page html: %w", err)
	}
	return html, nil
}

func (d *ChromeDriver) Maximize(ctx context.Context) error {
	err := d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		windowID, _, err := cdpbrowser.GetWindowForTarget().Do(ctx)
		if err != nil {
			return err
		}
		return cdpbrowser.SetWindowBounds(windowID, &cdpbrowser.Bounds{
			WindowState: cdpbrowser.WindowStateMaximized,
		}).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("maximize window: %w", err)
	}
	return nil
}

// AddCookie sets a cookie scoped to the current page URL.
func (d *ChromeDriver) AddCookie(ctx context.Context, name, value string) error {
	err := d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var url string
		if err := chromedp.Location(&url).Do(ctx); err != nil {
			return err
		}
		return network.SetCookie(name, value).WithURL(url).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("add cookie %s: %w", name, err)
	}
	return nil
}

func (d *ChromeDriver) SendKeys(ctx context.Context, loc Locator, text string) error {
	sel, opts, err := d.query(loc)
	if err != nil {
		return err
	}
	if err := d.run(ctx, chromedp.SendKeys(sel, text, append(opts, chromedp.NodeVisible)...)); err != nil {
		return fmt.Errorf("send keys to %s: %w", loc, err)
	}
	return nil
}

func (d *ChromeDriver) WaitVisible(ctx context.Context, loc Locator, timeout time.Duration) error {
	sel, opts, err := d.query(loc)
	if err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := d.run(waitCtx, chromedp.WaitVisible(sel, opts...)); err != nil {
		return fmt.Errorf("element %s not visible after %s: %w", loc, timeout, err)
	}
	return nil
}

func (d *ChromeDriver) WaitAbsent(ctx context.Context, loc Locator, timeout time.Duration) error {
	sel, opts, err := d.query(loc)
	if err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := d.run(waitCtx, chromedp.WaitNotPresent(sel, opts...)); err != nil {
		return fmt.Errorf("element %s still present after %s: %w", loc, timeout, err)
	}
	return nil
}

func (d *ChromeDriver) ScrollIntoView(ctx context.Context, loc Locator) error {
	sel, opts, err := d.query(loc)
	if err != nil {
		return err
	}
	if err := d.run(ctx, chromedp.ScrollIntoView(sel, opts...)); err != nil {
		return fmt.Errorf("scroll to %s: %w", loc, err)
	}
	return nil
}

func (d *ChromeDriver) Click(ctx context.Context, loc Locator) error {
	sel, opts, err := d.query(loc)
	if err != nil {
		return err
	}
	if err := d.run(ctx, chromedp.Click(sel, append(opts, chromedp.NodeVisible)...)); err != nil {
		return fmt.Errorf("click %s: %w", loc, err)
	}
	return nil
}

func (d *ChromeDriver) DoubleClick(ctx context.Context, loc Locator) error {
	sel, opts, err := d.query(loc)
	if err != nil {
		return err
	}
	if err := d.run(ctx, chromedp.DoubleClick(sel, append(opts, chromedp.NodeVisible)...)); err != nil {
		return fmt.Errorf("double click %s: %w", loc, err)
	}
	return nil
}

func (d *ChromeDriver) RightClick(ctx context.Context, loc Locator) error {
	sel, opts, err := d.query(loc)
	if err != nil {
		return err
	}
	var nodes []*cdp.Node
	err = d.run(ctx,
		chromedp.Nodes(sel, &nodes, append(opts, chromedp.NodeVisible)...),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if len(nodes) == 0 {
				return fmt.Errorf("no node matches %s", loc)
			}
			return chromedp.MouseClickNode(nodes[0], chromedp.ButtonRight).Do(ctx)
		}),
	)
	if err != nil {
		return fmt.Errorf("right click %s: %w", loc, err)
	}
	return nil
}

// SwitchTab attaches to the first page target that is not the current one.
func (d *ChromeDriver) SwitchTab(ctx context.Context) error {
	d.mu.RLock()
	current := chromedp.FromContext(d.tabCtx).Target
	d.mu.RUnlock()

	targets, err := chromedp.Targets(d.browserCtx)
	if err != nil {
		return fmt.Errorf("list tabs: %w", err)
	}
	for _, t := range targets {
		if t.Type != "page" || (current != nil && t.TargetID == current.TargetID) {
			continue
		}
		tabCtx, cancel := chromedp.NewContext(d.browserCtx, chromedp.WithTargetID(t.TargetID))
		if err := chromedp.Run(tabCtx); err != nil {
			cancel()
			return fmt.Errorf("attach tab %s: %w", t.TargetID, err)
		}
		d.mu.Lock()
		d.tabCtx = tabCtx
		d.tabCancels = append(d.tabCancels, cancel)
		d.frame = nil
		d.mu.Unlock()
		d.logger.Debug("switched tab", zap.String("target", string(t.TargetID)), zap.String("title", t.Title))
		return nil
	}
	return errors.New("no other tab to switch to")
}

// SwitchFrame enters a child frame by zero-based index, or by name or id.
func (d *ChromeDriver) SwitchFrame(ctx context.Context, frame string) error {
	if idx, err := strconv.Atoi(frame); err == nil {
		return d.enterFrame(ctx, Locator{Type: "css", Value: "iframe, frame"}, idx)
	}
	q := cssString(frame)
	sel := fmt.Sprintf("iframe[name=%[1]s], iframe[id=%[1]s], frame[name=%[1]s], frame[id=%[1]s]", q)
	return d.enterFrame(ctx, Locator{Type: "css", Value: sel}, 0)
}

func (d *ChromeDriver) SwitchFrameByLocator(ctx context.Context, loc Locator) error {
	return d.enterFrame(ctx, loc, 0)
}

func (d *ChromeDriver) enterFrame(ctx context.Context, loc Locator, index int) error {
	sel, opts, err := d.query(loc)
	if err != nil {
		return err
	}
	var nodes []*cdp.Node
	if loc.Type == "css" || loc.Type == "name" {
		opts = append(opts, chromedp.ByQueryAll)
	}
	if err := d.run(ctx, chromedp.Nodes(sel, &nodes, opts...)); err != nil {
		return fmt.Errorf("find frame %s: %w", loc, err)
	}
	if index < 0 || index >= len(nodes) {
		return fmt.Errorf("frame index %d out of range (%d frames)", index, len(nodes))
	}
	d.mu.Lock()
	d.frame = nodes[index]
	d.mu.Unlock()
	return nil
}

func (d *ChromeDriver) SwitchToDefault(ctx context.Context) error {
	d.mu.Lock()
	d.frame = nil
	d.mu.Unlock()
	return nil
}

// CaptureFrame takes a JPEG screenshot of the current tab's viewport.
func (d *ChromeDriver) CaptureFrame(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatJpeg).
			WithQuality(int64(d.opts.JPEGQuality)).
			Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

// Close shuts the browser down. Safe to call more than once.
func (d *ChromeDriver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	cancels := d.tabCancels
	d.tabCancels = nil
	d.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	d.browserCancel()
	d.allocCancel()
	d.logger.Info("browser closed")
	return nil
}

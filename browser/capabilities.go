package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remote-agent/capture"
	"remote-agent/registry"
	"remote-agent/runctx"

	"go.uber.org/zap"
)

// ErrNoDriver is returned when a run has no browser yet.
var ErrNoDriver = errors.New("no driver for run; call create_driver first")

// Options configures Provider.
type Options struct {
	CaptureFPS  float64       // <= 0 disables screen capture
	WaitTimeout time.Duration // Used by exists and does_not_exist
}

// Provider exposes browser actions as capabilities. Each run id owns at
// most one driver, stored as the run's handle.
type Provider struct {
	runs    *runctx.Store
	hub     *capture.Hub
	factory Factory
	opts    Options
	logger  *zap.Logger
}

// NewProvider builds a Provider. hub may be nil when streaming is off.
func NewProvider(runs *runctx.Store, hub *capture.Hub, factory Factory, opts Options, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 10 * time.Second
	}
	return &Provider{
		runs:    runs,
		hub:     hub,
		factory: factory,
		opts:    opts,
		logger:  logger.With(zap.String("component", "browser")),
	}
}

// session is the run handle: closing it stops capture before the browser.
type session struct {
	Driver
	hub   *capture.Hub
	runID string
}

func (s *session) Close() error {
	if s.hub != nil {
		s.hub.Stop(s.runID)
	}
	return s.Driver.Close()
}

func (p *Provider) driver(runID string) (Driver, error) {
	run, ok := p.runs.Lookup(runID)
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNoDriver)
	}
	s, ok := run.Handle().(*session)
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNoDriver)
	}
	return s.Driver, nil
}

func (p *Provider) createDriver(ctx context.Context, call *registry.Call) (any, error) {
	d, err := p.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("create driver: %w", err)
	}
	s := &session{Driver: d, hub: p.hub, runID: call.RunID}
	if err := p.runs.Get(call.RunID).SetHandle(s); err != nil {
		p.logger.Warn("closing previous driver failed", zap.String("run_id", call.RunID), zap.Error(err))
	}
	if p.hub != nil && p.opts.CaptureFPS > 0 {
		p.hub.Start(call.RunID, d, p.opts.CaptureFPS)
	}
	p.logger.Info("driver created", zap.String("run_id", call.RunID))
	return "driver created", nil
}

func (p *Provider) stopDriver(ctx context.Context, call *registry.Call) (any, error) {
	run, ok := p.runs.Lookup(call.RunID)
	if !ok || run.Handle() == nil {
		return nil, fmt.Errorf("run %s: %w", call.RunID, ErrNoDriver)
	}
	// Stopping the driver ends the run: its variables go with it.
	if err := p.runs.Stop(ctx, call.RunID); err != nil {
		return nil, fmt.Errorf("stop driver: %w", err)
	}
	p.logger.Info("driver stopped", zap.String("run_id", call.RunID))
	return "success", nil
}

// withDriver adapts an action that needs the run's driver.
func (p *Provider) withDriver(fn func(ctx context.Context, d Driver, call *registry.Call) (any, error)) registry.Func {
	return func(ctx context.Context, call *registry.Call) (any, error) {
		d, err := p.driver(call.RunID)
		if err != nil {
			return nil, err
		}
		return fn(ctx, d, call)
	}
}

// withLocator adapts an action on one element.
func (p *Provider) withLocator(fn func(ctx context.Context, d Driver, loc Locator, call *registry.Call) (any, error)) registry.Func {
	return p.withDriver(func(ctx context.Context, d Driver, call *registry.Call) (any, error) {
		loc, err := locatorOf(call)
		if err != nil {
			return nil, err
		}
		return fn(ctx, d, loc, call)
	})
}

func locatorOf(call *registry.Call) (Locator, error) {
	locType, err := call.String("locator_type")
	if err != nil {
		return Locator{}, err
	}
	value, err := call.String("locator")
	if err != nil {
		return Locator{}, err
	}
	return ParseLocator(locType, value)
}

func pageHTML(ctx context.Context, d Driver) (any, error) {
	html, err := d.PageHTML(ctx)
	if err != nil {
		return nil, err
	}
	return cleanHTML(html), nil
}

var locatorParams = []registry.Param{registry.Required("locator_type"), registry.Required("locator")}

// Capabilities returns the browser capability table.
func (p *Provider) Capabilities() []registry.Capability {
	return []registry.Capability{
		{
			Name:   "create_driver",
			Doc:    "Creates the browser session the other actions run against. Takes no arguments and returns a confirmation string.",
			Record: true,
			Func:   p.createDriver,
		},
		{
			Name:   "stop_driver",
			Doc:    "Stops the browser session so another one can be created. Run at the end of every test case.",
			Record: true,
			Func:   p.stopDriver,
		},
		{
			Name:   "maximize_window",
			Doc:    "Maximizes the browser window to the size of the screen.",
			Record: true,
			Func: p.withDriver(func(ctx context.Context, d Driver, _ *registry.Call) (any, error) {
				if err := d.Maximize(ctx); err != nil {
					return nil, err
				}
				return "success maximizing", nil
			}),
		},
		{
			Name:   "add_cookie",
			Params: []registry.Param{registry.Required("name"), registry.Required("value")},
			Doc:    "Adds a cookie with the given name and value to the current page.",
			Record: true,
			Func: p.withDriver(func(ctx context.Context, d Driver, call *registry.Call) (any, error) {
				name, err := call.String("name")
				if err != nil {
					return nil, err
				}
				value, err := call.String("value")
				if err != nil {
					return nil, err
				}
				if err := d.AddCookie(ctx, name, value); err != nil {
					return nil, err
				}
				return "Cookies added", nil
			}),
		},
		{
			Name:   "navigate_to_url",
			Params: []registry.Param{registry.Required("url")},
			Doc:    "Navigates the browser to url (format https://...). Returns the url.",
			Record: true,
			Func: p.withDriver(func(ctx context.Context, d Driver, call *registry.Call) (any, error) {
				url, err := call.String("url")
				if err != nil {
					return nil, err
				}
				if err := d.Navigate(ctx, url); err != nil {
					return nil, err
				}
				return url, nil
			}),
		},
		{
			Name:   "send_keys",
			Params: append(append([]registry.Param{}, locatorParams...), registry.Required("value")),
			Doc:    "Types value into the element found by locator_type (id, css, xpath, name) and locator.",
			Record: true,
			Func: p.withLocator(func(ctx context.Context, d Driver, loc Locator, call *registry.Call) (any, error) {
				value, err := call.String("value")
				if err != nil {
					return nil, err
				}
				if err := d.SendKeys(ctx, loc, value); err != nil {
					return nil, err
				}
				return "sent keys", nil
			}),
		},
		{
			Name:   "exists",
			Params: locatorParams,
			Doc:    "Checks that the element found by locator_type (id, css, xpath, name) and locator is visible on the page.",
			Record: true,
			Func: p.withLocator(func(ctx context.Context, d Driver, loc Locator, _ *registry.Call) (any, error) {
				if err := d.WaitVisible(ctx, loc, p.opts.WaitTimeout); err != nil {
					return nil, err
				}
				return "exists", nil
			}),
		},
		{
			Name:   "does_not_exist",
			Params: locatorParams,
			Doc:    "Checks that the element found by locator_type (id, css, xpath, name) and locator is NOT on the page.",
			Record: true,
			Func: p.withLocator(func(ctx context.Context, d Driver, loc Locator, _ *registry.Call) (any, error) {
				if err := d.WaitAbsent(ctx, loc, p.opts.WaitTimeout); err != nil {
					return nil, err
				}
				return "doesn't exists", nil
			}),
		},
		{
			Name:   "scroll_to_element",
			Params: locatorParams,
			Doc:    "Scrolls until the element found by locator_type (id, css, xpath, name) and locator is in view.",
			Record: true,
			Func: p.withLocator(func(ctx context.Context, d Driver, loc Locator, _ *registry.Call) (any, error) {
				if err := d.ScrollIntoView(ctx, loc); err != nil {
					return nil, err
				}
				return "scrolled", nil
			}),
		},
		{
			Name:   "click",
			Params: locatorParams,
			Doc:    "Clicks the element found by locator_type (id, css, xpath, name) and locator. Returns the page HTML after the click.",
			Record: true,
			Func: p.withLocator(func(ctx context.Context, d Driver, loc Locator, _ *registry.Call) (any, error) {
				if err := d.Click(ctx, loc); err != nil {
					return nil, err
				}
				return pageHTML(ctx, d)
			}),
		},
		{
			Name:   "double_click",
			Params: locatorParams,
			Doc:    "Double clicks the element found by locator_type (id, css, xpath, name) and locator.",
			Record: true,
			Func: p.withLocator(func(ctx context.Context, d Driver, loc Locator, _ *registry.Call) (any, error) {
				if err := d.DoubleClick(ctx, loc); err != nil {
					return nil, err
				}
				return "double clicked", nil
			}),
		},
		{
			Name:   "right_click",
			Params: locatorParams,
			Doc:    "Right clicks the element found by locator_type (id, css, xpath, name) and locator.",
			Record: true,
			Func: p.withLocator(func(ctx context.Context, d Driver, loc Locator, _ *registry.Call) (any, error) {
				if err := d.RightClick(ctx, loc); err != nil {
					return nil, err
				}
				return "right clicked", nil
			}),
		},
		{
			Name: "get_page_html",
			Doc:  "Returns the HTML of the page without scripts, styles and svg, for finding elements to act on.",
			Func: p.withDriver(func(ctx context.Context, d Driver, _ *registry.Call) (any, error) {
				return pageHTML(ctx, d)
			}),
		},
		{
			Name: "return_current_url",
			Doc:  "Returns the current URL of the page.",
			Func: p.withDriver(func(ctx context.Context, d Driver, _ *registry.Call) (any, error) {
				return d.CurrentURL(ctx)
			}),
		},
		{
			Name:   "change_windows_tabs",
			Doc:    "Switches to a different tab or window. Returns the new page HTML.",
			Record: true,
			Func: p.withDriver(func(ctx context.Context, d Driver, _ *registry.Call) (any, error) {
				if err := d.SwitchTab(ctx); err != nil {
					return nil, err
				}
				return pageHTML(ctx, d)
			}),
		},
		{
			Name:   "change_frame_by_id",
			Params: []registry.Param{registry.Required("frame_name")},
			Doc:    "Switches into a frame or iframe by name, id or zero-based index.",
			Record: true,
			Func: p.withDriver(func(ctx context.Context, d Driver, call *registry.Call) (any, error) {
				frame, err := call.String("frame_name")
				if err != nil {
					return nil, err
				}
				if err := d.SwitchFrame(ctx, frame); err != nil {
					return nil, err
				}
				return "frame_changed", nil
			}),
		},
		{
			Name:   "change_frame_by_locator",
			Params: []registry.Param{registry.Optional("locator_type", nil), registry.Optional("locator", nil)},
			Doc:    "Switches into the iframe found by locator_type and locator.",
			Record: true,
			Func: p.withLocator(func(ctx context.Context, d Driver, loc Locator, _ *registry.Call) (any, error) {
				if err := d.SwitchFrameByLocator(ctx, loc); err != nil {
					return nil, err
				}
				return "frame_changed", nil
			}),
		},
		{
			Name:   "change_frame_to_original",
			Doc:    "Switches back to the top-level document after change_frame_by_id or change_frame_by_locator.",
			Record: true,
			Func: p.withDriver(func(ctx context.Context, d Driver, _ *registry.Call) (any, error) {
				if err := d.SwitchToDefault(ctx); err != nil {
					return nil, err
				}
				return "frame_changed", nil
			}),
		},
	}
}

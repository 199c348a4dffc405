package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"

	"tickgrabber/internal/model"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Options configure a Chrome session.
type Options struct {
	Headless  bool
	UserAgent string
	// Timeout bounds each individual browser operation, not the session.
	Timeout time.Duration
}

type chromeDriver struct {
	ctx          context.Context
	cancelCtx    context.CancelFunc
	cancelAlloc  context.CancelFunc
	opts         Options
	mouseX       float64
	mouseY       float64
	mousePressed bool
}

// NewChrome starts a Chrome instance and returns a Driver bound to it.
// A failure to start is a browser setup failure: the session never
// existed and there is nothing to clean up.
func NewChrome(opts Options) (Driver, error) {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.UserAgent(opts.UserAgent),
	)
	if !opts.Headless {
		execOpts = append(execOpts, chromedp.Flag("headless", false))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), execOpts...)
	ctx, cancelCtx := chromedp.NewContext(allocCtx)

	// chromedp launches the process lazily; force it now so setup errors
	// surface here instead of mid-run.
	if err := chromedp.Run(ctx); err != nil {
		cancelCtx()
		cancelAlloc()
		return nil, fmt.Errorf("%w: %v", model.ErrBrowserSetup, err)
	}

	return &chromeDriver{
		ctx:         ctx,
		cancelCtx:   cancelCtx,
		cancelAlloc: cancelAlloc,
		opts:        opts,
	}, nil
}

// run executes actions against the browser with the per-op timeout,
// aborting early if the caller's context is cancelled.
func (d *chromeDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(d.ctx, d.opts.Timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(opCtx, actions...)
}

func (d *chromeDriver) Navigate(ctx context.Context, url string) error {
	return d.run(ctx, chromedp.Navigate(url))
}

func (d *chromeDriver) WaitVisible(ctx context.Context, selector string) error {
	return d.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (d *chromeDriver) ElementExists(ctx context.Context, selector string) (bool, error) {
	var exists bool
	err := d.run(ctx, chromedp.Evaluate(
		fmt.Sprintf(`document.querySelector(%q) !== null`, selector), &exists))
	return exists, err
}

func (d *chromeDriver) ElementVisible(ctx context.Context, selector string) (bool, error) {
	var visible bool
	err := d.run(ctx, chromedp.Evaluate(fmt.Sprintf(`(function() {
		const el = document.querySelector(%q);
		if (!el) return false;
		const rect = el.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0 && el.offsetParent !== null;
	})()`, selector), &visible))
	return visible, err
}

func (d *chromeDriver) Text(ctx context.Context, selector string) (string, error) {
	var text string
	err := d.run(ctx, chromedp.Text(selector, &text, chromedp.ByQuery))
	return text, err
}

func (d *chromeDriver) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	var value string
	var ok bool
	err := d.run(ctx, chromedp.AttributeValue(selector, name, &value, &ok, chromedp.ByQuery))
	return value, ok, err
}

func (d *chromeDriver) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	var buf []byte
	err := d.run(ctx, chromedp.Screenshot(selector, &buf, chromedp.ByQuery))
	return buf, err
}

func (d *chromeDriver) SetValue(ctx context.Context, selector, value string) error {
	return d.run(ctx, chromedp.SetValue(selector, value, chromedp.ByQuery))
}

func (d *chromeDriver) Click(ctx context.Context, selector string) error {
	return d.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (d *chromeDriver) Box(ctx context.Context, selector string) (Box, error) {
	var box Box
	err := d.run(ctx, chromedp.Evaluate(fmt.Sprintf(`(function() {
		const el = document.querySelector(%q);
		if (!el) return null;
		const r = el.getBoundingClientRect();
		return {x: r.x, y: r.y, width: r.width, height: r.height};
	})()`, selector), &box))
	if err != nil {
		return Box{}, err
	}
	if box.Width == 0 && box.Height == 0 {
		return Box{}, fmt.Errorf("element %s not found or has no geometry", selector)
	}
	return box, nil
}

func (d *chromeDriver) PressHold(ctx context.Context, selector string) error {
	box, err := d.Box(ctx, selector)
	if err != nil {
		return err
	}
	d.mouseX = box.X + box.Width/2
	d.mouseY = box.Y + box.Height/2
	err = d.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return input.DispatchMouseEvent(input.MousePressed, d.mouseX, d.mouseY).
			WithButton(input.Left).
			WithClickCount(1).
			Do(c)
	}))
	if err == nil {
		d.mousePressed = true
	}
	return err
}

func (d *chromeDriver) MoveBy(ctx context.Context, dx, dy int) error {
	if !d.mousePressed {
		return fmt.Errorf("mouse is not held")
	}
	d.mouseX += float64(dx)
	d.mouseY += float64(dy)
	return d.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return input.DispatchMouseEvent(input.MouseMoved, d.mouseX, d.mouseY).
			WithButton(input.Left).
			Do(c)
	}))
}

func (d *chromeDriver) Release(ctx context.Context) error {
	if !d.mousePressed {
		return fmt.Errorf("mouse is not held")
	}
	err := d.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return input.DispatchMouseEvent(input.MouseReleased, d.mouseX, d.mouseY).
			WithButton(input.Left).
			WithClickCount(1).
			Do(c)
	}))
	d.mousePressed = false
	return err
}

func (d *chromeDriver) Reload(ctx context.Context) error {
	return d.run(ctx, chromedp.Reload())
}

func (d *chromeDriver) Close() error {
	d.cancelCtx()
	d.cancelAlloc()
	return nil
}

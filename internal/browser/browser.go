package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

const (
	defaultNavTimeout    = 30 * time.Second
	defaultActionTimeout = 10 * time.Second
)

// Controller is the page capability surface the workflow drives. Every
// operation except Wait, CurrentURL and Present may fail with *ActionError.
// Nothing here retries; retry and fallback policy belongs to the caller.
type Controller interface {
	Navigate(ctx context.Context, url string) error
	// Present reports whether selector matches at least one element.
	Present(ctx context.Context, selector string) bool
	Count(ctx context.Context, selector string) int
	Click(ctx context.Context, selector string) error
	// Type replaces the value of an input.
	Type(ctx context.Context, selector, text string) error
	Value(ctx context.Context, selector string) (string, error)
	Checked(ctx context.Context, selector string) (bool, error)
	SelectValue(ctx context.Context, selector, value string) error
	SelectLabel(ctx context.Context, selector, label string) error
	// Screenshot captures one element as PNG, or the full page when selector is "".
	Screenshot(ctx context.Context, selector string) ([]byte, error)
	CurrentURL() string
	Title(ctx context.Context) (string, error)
	PageSource(ctx context.Context) (string, error)
	// Wait blocks for d. It returns early only when ctx is done.
	Wait(ctx context.Context, d time.Duration) error
	RunScript(ctx context.Context, js string, arg any) (any, error)
	Close(ctx context.Context) error
}

// Options configure the launched browser.
type Options struct {
	Headless bool
}

// Launcher owns the playwright driver and one Chromium process. Sessions are
// separate browser contexts so nothing leaks from one profile to the next.
type Launcher struct {
	pw      *playwright.Playwright
	browser playwright.Browser
}

func NewLauncher(ctx context.Context, opts Options) (*Launcher, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	return &Launcher{pw: pw, browser: browser}, nil
}

// NewController opens a fresh session: its own cookies, storage and page.
func (l *Launcher) NewController(ctx context.Context) (Controller, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bctx, err := l.browser.NewContext(playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
		Locale:            playwright.String("en-GB"),
	})
	if err != nil {
		return nil, fmt.Errorf("new context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}
	page.SetDefaultTimeout(float64(defaultActionTimeout.Milliseconds()))
	page.SetDefaultNavigationTimeout(float64(defaultNavTimeout.Milliseconds()))
	return &controller{context: bctx, page: page}, nil
}

func (l *Launcher) Close() error {
	if l.browser != nil {
		_ = l.browser.Close()
	}
	if l.pw != nil {
		return l.pw.Stop()
	}
	return nil
}

type controller struct {
	context playwright.BrowserContext
	page    playwright.Page
}

func (c *controller) Close(ctx context.Context) error {
	_ = ctx
	if c.page != nil {
		_ = c.page.Close()
	}
	if c.context != nil {
		return c.context.Close()
	}
	return nil
}

func (c *controller) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(float64(defaultNavTimeout.Milliseconds())),
	})
	return wrap(OpNavigate, url, err)
}

func (c *controller) Present(ctx context.Context, selector string) bool {
	return c.Count(ctx, selector) > 0
}

func (c *controller) Count(ctx context.Context, selector string) int {
	if ctx.Err() != nil || strings.TrimSpace(selector) == "" {
		return 0
	}
	n, err := c.page.Locator(selector).Count()
	if err != nil {
		return 0
	}
	return n
}

func (c *controller) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	first := c.page.Locator(selector).First()
	if err := first.WaitFor(playwright.LocatorWaitForOptions{State: playwright.WaitForSelectorStateAttached}); err != nil {
		return notFound(OpClick, selector, err)
	}
	// A failed scroll is not fatal; the click reports the real problem.
	_ = first.ScrollIntoViewIfNeeded()
	return wrap(OpClick, selector, first.Click())
}

func (c *controller) Type(ctx context.Context, selector, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	first := c.page.Locator(selector).First()
	if err := first.WaitFor(playwright.LocatorWaitForOptions{State: playwright.WaitForSelectorStateAttached}); err != nil {
		return notFound(OpType, selector, err)
	}
	return wrap(OpType, selector, first.Fill(text))
}

func (c *controller) Value(ctx context.Context, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	val, err := c.page.Locator(selector).First().InputValue()
	if err != nil {
		return "", wrap(OpRead, selector, err)
	}
	return val, nil
}

func (c *controller) Checked(ctx context.Context, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	checked, err := c.page.Locator(selector).First().IsChecked()
	if err != nil {
		return false, wrap(OpRead, selector, err)
	}
	return checked, nil
}

func (c *controller) SelectValue(ctx context.Context, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.page.Locator(selector).First().SelectOption(playwright.SelectOptionValues{
		Values: &[]string{value},
	})
	return wrap(OpSelect, selector, err)
}

func (c *controller) SelectLabel(ctx context.Context, selector, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.page.Locator(selector).First().SelectOption(playwright.SelectOptionValues{
		Labels: &[]string{label},
	})
	return wrap(OpSelect, selector, err)
}

func (c *controller) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(selector) == "" {
		data, err := c.page.Screenshot(playwright.PageScreenshotOptions{
			FullPage: playwright.Bool(true),
		})
		return data, wrap(OpScreenshot, "", err)
	}
	data, err := c.page.Locator(selector).First().Screenshot()
	return data, wrap(OpScreenshot, selector, err)
}

func (c *controller) CurrentURL() string {
	return c.page.URL()
}

func (c *controller) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	title, err := c.page.Title()
	return title, wrap(OpRead, "title", err)
}

func (c *controller) PageSource(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	html, err := c.page.Content()
	return html, wrap(OpRead, "page", err)
}

func (c *controller) Wait(ctx context.Context, d time.Duration) error {
	return Sleep(ctx, d)
}

func (c *controller) RunScript(ctx context.Context, js string, arg any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		val any
		err error
	)
	if arg == nil {
		val, err = c.page.Evaluate(js)
	} else {
		val, err = c.page.Evaluate(js, arg)
	}
	return val, wrap(OpScript, "", err)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package engine

import (
	"fmt"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightDriver launches a local browser through the playwright driver.
type PlaywrightDriver struct {
	// Browser is chromium, firefox or webkit.
	Browser  string
	Headless bool

	mu sync.Mutex
	pw *playwright.Playwright
}

// Launch starts the playwright driver on first use and launches a browser.
func (d *PlaywrightDriver) Launch() (playwright.Browser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pw == nil {
		pw, err := playwright.Run()
		if err != nil {
			return nil, fmt.Errorf("start playwright: %w", err)
		}
		d.pw = pw
	}

	var bt playwright.BrowserType
	switch d.Browser {
	case "firefox":
		bt = d.pw.Firefox
	case "webkit":
		bt = d.pw.WebKit
	default:
		bt = d.pw.Chromium
	}
	browser, err := bt.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(d.Headless),
	})
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", bt.Name(), err)
	}
	return browser, nil
}

// Stop shuts the playwright driver down.
func (d *PlaywrightDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pw == nil {
		return nil
	}
	err := d.pw.Stop()
	d.pw = nil
	return err
}

// Probe reports whether a browser can be launched here. Tests use it to
// skip when playwright or its browsers are not installed.
func Probe(browser string) error {
	d := &PlaywrightDriver{Browser: browser, Headless: true}
	b, err := d.Launch()
	if err != nil {
		_ = d.Stop()
		return err
	}
	_ = b.Close()
	return d.Stop()
}

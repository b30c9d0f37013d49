package fetcher

import (
	"os/exec"

	"github.com/jmylchreest/pricewatch/internal/logger"
)

// Chrome/Chromium binary names and install locations, in lookup order.
var chromeBinaryNames = []string{
	"google-chrome-stable",
	"google-chrome",
	"chromium",
	"chromium-browser",
	"chrome",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"/Applications/Chromium.app/Contents/MacOS/Chromium",
	"/usr/bin/chromium",
	"/snap/bin/chromium",
	`C:\Program Files\Google\Chrome\Application\chrome.exe`,
}

// FindChromePath returns the first browser binary found, or "" to let
// chromedp apply its own lookup.
func FindChromePath() string {
	for _, name := range chromeBinaryNames {
		if path, err := exec.LookPath(name); err == nil {
			logger.Debug("found Chrome binary", "path", path)
			return path
		}
	}
	logger.Warn("no Chrome binary found, dynamic fetch mode may not work")
	return ""
}

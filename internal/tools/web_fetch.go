package tools

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"

	"github.com/nextlevelbuilder/agentgateway/internal/toolregistry"
)

const (
	defaultFetchMaxChars = 50000
	fetchTimeout         = 30 * time.Second
)

var tagStripper = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</\s*(script|style)\s*>|<[^>]+>`)

// checkSSRF rejects URLs that resolve to loopback, link-local, or private
// address space, so the fetch tool can't be used to probe the gateway's own
// network.
func checkSSRF(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("missing hostname")
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("resolve host: %w", err)
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return fmt.Errorf("refusing to fetch address %s", ip)
		}
	}
	return nil
}

// RegisterWebFetch adds the "web_fetch" tool. It renders the page in a
// headless browser (so client-side content resolves) and returns the
// visible text, stripped of markup and capped at maxChars.
func RegisterWebFetch(reg *toolregistry.Registry, maxChars int) {
	if maxChars <= 0 {
		maxChars = defaultFetchMaxChars
	}

	reg.Register("web_fetch", "Fetch a URL in a headless browser and return its visible text content", toolregistry.Schema{
		Properties: map[string]toolregistry.Property{
			"url": {Type: "string", Description: "HTTP or HTTPS URL to fetch"},
		},
		Required: []string{"url"},
	}, func(ctx context.Context, args map[string]any) (toolregistry.Result, error) {
		rawURL, _ := args["url"].(string)
		if rawURL == "" {
			return toolregistry.Result{}, fmt.Errorf("url is required")
		}
		parsed, err := url.Parse(rawURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return toolregistry.NewResult("Error: only http and https URLs are supported"), nil
		}
		if err := checkSSRF(rawURL); err != nil {
			return toolregistry.NewResult(fmt.Sprintf("Error: refused: %v", err)), nil
		}

		fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
		defer cancel()

		text, err := fetchRendered(fetchCtx, rawURL)
		if err != nil {
			return toolregistry.NewResult(fmt.Sprintf("Error: fetch failed: %v", err)), nil
		}

		if len(text) > maxChars {
			text = text[:maxChars] + fmt.Sprintf("... [truncated, limit %d chars]", maxChars)
		}
		return toolregistry.NewResult(text), nil
	})
}

func fetchRendered(ctx context.Context, rawURL string) (string, error) {
	u, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return "", fmt.Errorf("launch browser: %w", err)
	}
	browser := rod.New().ControlURL(u).Context(ctx)
	if err := browser.Connect(); err != nil {
		return "", fmt.Errorf("connect browser: %w", err)
	}
	defer browser.Close()

	page, err := browser.Page(rod.PageInfo{})
	if err != nil {
		return "", fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	if err := page.Navigate(rawURL); err != nil {
		return "", fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load: %w", err)
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("read content: %w", err)
	}

	text := tagStripper.ReplaceAllString(html, " ")
	text = strings.Join(strings.Fields(text), " ")
	return text, nil
}

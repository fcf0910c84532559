package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
	"golang.org/x/net/html"

	"github.com/crownking/assistant/internal/config"
)

const (
	robotsCacheDuration = time.Hour
	maxPageSize         = 5 * 1024 * 1024
)

var (
	// ErrDisallowed is returned when robots.txt forbids fetching the page.
	ErrDisallowed = errors.New("blocked by robots.txt")
	ErrInvalidURL = errors.New("invalid URL")
	// ErrHostNotAllowed is returned for hosts outside the configured allow list,
	// including redirect targets.
	ErrHostNotAllowed = errors.New("host is not allowed for import")
)

const maxRedirects = 10

// Page contains the extracted text of a catalog page
type Page struct {
	URL        string
	Title      string
	Text       string
	StatusCode int
}

type robotsEntry struct {
	robots    *robotstxt.RobotsData
	fetchTime time.Time
}

// Fetcher downloads catalog pages for import into the documents directory.
type Fetcher struct {
	client        *http.Client
	userAgent     string
	respectRobots bool
	allowedHosts  []string
	logger        *logrus.Entry

	mu          sync.Mutex
	robotsCache map[string]*robotsEntry
}

func NewFetcher(cfg config.FetcherConfig, logger *logrus.Entry) *Fetcher {
	if logger == nil {
		logger = logrus.WithField("component", "fetcher")
	}
	f := &Fetcher{
		userAgent:     cfg.UserAgent,
		respectRobots: cfg.RespectRobots,
		logger:        logger,
		robotsCache:   make(map[string]*robotsEntry),
	}
	for _, host := range cfg.AllowedHosts {
		if host = strings.ToLower(strings.TrimSpace(host)); host != "" {
			f.allowedHosts = append(f.allowedHosts, host)
		}
	}
	f.client = &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
		CheckRedirect: f.checkRedirect,
	}
	return f
}

// HostAllowed reports whether u's host is on the allow list, either exactly or as a subdomain.
func (f *Fetcher) HostAllowed(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	for _, allowed := range f.allowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if !f.HostAllowed(req.URL) {
		return fmt.Errorf("redirect to %s: %w", req.URL.Host, ErrHostNotAllowed)
	}
	return nil
}

// Fetch downloads a page and extracts its title and visible text
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("%w %q", ErrInvalidURL, rawURL)
	}
	if !f.HostAllowed(parsed) {
		return nil, fmt.Errorf("%s: %w", parsed.Host, ErrHostNotAllowed)
	}

	if f.respectRobots {
		allowed, err := f.allowed(ctx, parsed)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("%s: %w", rawURL, ErrDisallowed)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	page := &Page{URL: rawURL, StatusCode: resp.StatusCode}
	if resp.StatusCode != http.StatusOK {
		return page, fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	title, text, err := ExtractText(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, fmt.Errorf("parsing error: %w", err)
	}
	page.Title = title
	page.Text = text
	return page, nil
}

// allowed consults the cached robots.txt of the page's host. Fetch failures allow the request.
func (f *Fetcher) allowed(ctx context.Context, page *url.URL) (bool, error) {
	robots := f.robotsFor(ctx, page)
	if robots == nil {
		return true, nil
	}
	group := robots.FindGroup(f.userAgent)
	if group == nil {
		return true, nil
	}
	return group.Test(page.Path), nil
}

func (f *Fetcher) robotsFor(ctx context.Context, page *url.URL) *robotstxt.RobotsData {
	host := page.Scheme + "://" + page.Host

	f.mu.Lock()
	entry, ok := f.robotsCache[host]
	f.mu.Unlock()
	if ok && time.Since(entry.fetchTime) < robotsCacheDuration {
		return entry.robots
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.WithError(err).WithField("host", page.Host).Warn("Failed to get robots.txt, allowing request")
		return nil
	}
	defer resp.Body.Close()

	var robots *robotstxt.RobotsData
	if resp.StatusCode == http.StatusOK {
		robots, err = robotstxt.FromResponse(resp)
		if err != nil {
			f.logger.WithError(err).WithField("host", page.Host).Warn("Failed to parse robots.txt, allowing request")
			robots = nil
		}
	}

	// cache misses too so a host without robots.txt is not asked again
	f.mu.Lock()
	f.robotsCache[host] = &robotsEntry{robots: robots, fetchTime: time.Now()}
	f.mu.Unlock()

	return robots
}

// ExtractText returns the title and the visible text of an HTML document.
// Script and style content is dropped and whitespace is collapsed.
func ExtractText(body io.Reader) (string, string, error) {
	tokenizer := html.NewTokenizer(body)
	var textBuilder strings.Builder
	var title string
	inScript := false
	inStyle := false
	inTitle := false

	for {
		tokenType := tokenizer.Next()

		switch tokenType {
		case html.ErrorToken:
			if tokenizer.Err() == io.EOF {
				return strings.TrimSpace(title), cleanText(textBuilder.String()), nil
			}
			return "", "", tokenizer.Err()

		case html.StartTagToken:
			switch tokenizer.Token().Data {
			case "script":
				inScript = true
			case "style":
				inStyle = true
			case "title":
				inTitle = true
			}

		case html.EndTagToken:
			switch tokenizer.Token().Data {
			case "script":
				inScript = false
			case "style":
				inStyle = false
			case "title":
				inTitle = false
			}

		case html.TextToken:
			data := tokenizer.Token().Data
			if inTitle {
				title = data
				continue
			}
			if !inScript && !inStyle {
				text := strings.TrimSpace(data)
				if text != "" {
					textBuilder.WriteString(text + " ")
				}
			}
		}
	}
}

// cleanText removes excessive whitespace
func cleanText(input string) string {
	return strings.Join(strings.Fields(input), " ")
}

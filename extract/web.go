package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"

	"visaslot-notifier/pkg/monitor"
)

// HTTPForbiddenError indicates a 403 Forbidden response, which means the
// session's cookies are no longer accepted and a fresh session is needed.
type HTTPForbiddenError struct {
	URL string
}

func (e *HTTPForbiddenError) Error() string {
	return fmt.Sprintf("HTTP 403 Forbidden: %s", e.URL)
}

// WebEngine fetches availability pages over plain HTTP and parses the
// slot table with goquery. Each session carries its own cookie jar, so
// recycling the session also drops any server-side state.
type WebEngine struct {
	baseURL string
	timeout time.Duration
	logger  *slog.Logger
}

// NewWebEngine creates a web engine for the given availability site.
func NewWebEngine(baseURL string, timeout time.Duration, logger *slog.Logger) *WebEngine {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebEngine{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		timeout: timeout,
		logger:  logger,
	}
}

type webSession struct {
	client *http.Client
}

func (s *webSession) Close(context.Context) error {
	s.client.CloseIdleConnections()
	return nil
}

// Open creates a session client with a fresh cookie jar and warms it up
// against the site root so later fetches carry valid cookies.
func (e *WebEngine) Open(ctx context.Context) (Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	session := &webSession{client: &http.Client{Jar: jar, Timeout: e.timeout}}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create warmup request: %w", err)
	}
	setBrowserHeaders(req)

	resp, err := session.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("warmup request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			e.logger.Warn("Failed to close warmup response body", "error", closeErr)
		}
	}()
	// Drain so the connection can be reused for the batch.
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		e.logger.Warn("Failed to drain warmup response body", "error", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("warmup returned HTTP %d", resp.StatusCode)
	}
	return session, nil
}

// Fetch retrieves and parses one target's availability page. Transport
// failures are retried briefly here; what survives is classified as
// session-level (blocked or unreachable) or target-level (bad content).
func (e *WebEngine) Fetch(ctx context.Context, session Session, target monitor.Target) (*Result, error) {
	ws, ok := session.(*webSession)
	if !ok || ws == nil {
		return nil, &SessionError{Op: "fetch", Err: fmt.Errorf("invalid session type %T", session)}
	}

	var result *Result
	err := retry.Do(
		func() error {
			e.logger.Info("HTTP request starting",
				"method", "GET",
				"url", target.URL,
				"target", target.ID)

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			setBrowserHeaders(req)

			start := time.Now()
			resp, err := ws.client.Do(req)
			duration := time.Since(start)

			if err != nil {
				e.logger.Warn("HTTP request failed, will retry",
					"url", target.URL,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					e.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			e.logger.Info("HTTP request completed",
				"url", target.URL,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds())

			switch {
			case resp.StatusCode == http.StatusForbidden:
				return retry.Unrecoverable(&HTTPForbiddenError{URL: target.URL})
			case resp.StatusCode == http.StatusNotFound:
				return retry.Unrecoverable(&TargetError{TargetID: target.ID, Err: fmt.Errorf("HTTP 404 for %s", target.URL)})
			case resp.StatusCode != http.StatusOK:
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			parsed, err := parseAvailabilityPage(resp.Body)
			if err != nil {
				return retry.Unrecoverable(&TargetError{TargetID: target.ID, Err: err})
			}
			result = parsed
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(15*time.Second),
		retry.MaxJitter(2*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			e.logger.Info("Retrying fetch after error", "target", target.ID, "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return nil, e.classifyFetchError(target, err)
	}
	return result, nil
}

// classifyFetchError wraps whatever survived the retries. A 403 means the
// session is blocked; exhausted transport retries mean the session or the
// site is unhealthy. Both warrant a fresh session. Parse and 404 failures
// were already tagged as target-level inside the retry loop.
func (e *WebEngine) classifyFetchError(target monitor.Target, err error) error {
	if IsTargetError(err) || IsSessionError(err) {
		return err
	}
	return &SessionError{Op: "fetch", Err: err}
}

// parseAvailabilityPage extracts the slot table from a city page. The
// table has one header row (country, earliest date, one column per
// tracked month) and one row per destination country; countries shown as
// temporarily unavailable are listed separately.
func parseAvailabilityPage(body io.Reader) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	table := doc.Find("table.availability, table").First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("no availability table found")
	}

	// Month codes come from the header row, skipping the country and
	// earliest-date columns.
	var months []string
	table.Find("thead th, tr:first-of-type th").Each(func(i int, th *goquery.Selection) {
		if i < 2 {
			return
		}
		code := strings.ToUpper(strings.TrimSpace(th.Text()))
		if len(code) >= 3 {
			months = append(months, code[:3])
		}
	})

	var result Result
	table.Find("tbody tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}

		flag, name := splitFlag(strings.TrimSpace(cells.Eq(0).Text()))
		if name == "" {
			return
		}

		if row.HasClass("unavailable") || strings.Contains(strings.ToLower(row.Text()), "temporarily unavailable") {
			result.Unavailable = append(result.Unavailable, name)
			return
		}

		country := monitor.CountryAvailability{
			Name:              name,
			Flag:              flag,
			EarliestAvailable: strings.TrimSpace(cells.Eq(1).Text()),
			Slots:             make(map[string]*string, len(months)),
		}
		if href, ok := row.Find("a").First().Attr("href"); ok {
			country.BookingURL = href
		}

		for i, month := range months {
			cell := cells.Eq(i + 2)
			if cell.Length() == 0 {
				continue
			}
			text := strings.TrimSpace(cell.Text())
			lower := strings.ToLower(text)
			if text == "" || strings.Contains(lower, "no availability") || strings.Contains(lower, "notify") {
				continue // no data for this month
			}
			value := text
			country.Slots[month] = &value
		}

		result.Countries = append(result.Countries, country)
	})

	if len(result.Countries) == 0 && len(result.Unavailable) == 0 {
		return nil, fmt.Errorf("availability table has no country rows")
	}
	return &result, nil
}

// splitFlag separates a leading flag emoji (regional indicator pair) from
// the country name in a single table cell.
func splitFlag(cell string) (flag, name string) {
	runes := []rune(cell)
	i := 0
	for i < len(runes) && runes[i] >= 0x1F1E6 && runes[i] <= 0x1F1FF {
		i++
	}
	flag = string(runes[:i])
	name = strings.TrimSpace(string(runes[i:]))
	return flag, name
}

func setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Cache-Control", "max-age=0")
}

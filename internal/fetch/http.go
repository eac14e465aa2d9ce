package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"pullbot/internal/media"
	logx "pullbot/pkg/logx"
)

const (
	DefaultWorkers   = 5
	DefaultUserAgent = "pullbot/1.0"
	DefaultMaxBytes  = 8 << 20

	maxSearchBody = 1 << 20
)

var errTooLarge = errors.New("body exceeds size limit")

type HTTPConfig struct {
	// SearchURL is queried as GET <SearchURL>?q=<keyword>&limit=<amount>.
	SearchURL string
	// Timeout bounds each HTTP request, not the whole call. Zero means none.
	Timeout   time.Duration
	Workers   int
	UserAgent string
	MaxBytes  int64
}

// HTTPProvider searches a JSON endpoint for image URLs and downloads them
// concurrently into the workspace.
type HTTPProvider struct {
	cfg    HTTPConfig
	client *http.Client
	log    logx.Logger
}

func NewHTTPProvider(cfg HTTPConfig, client *http.Client, log logx.Logger) (*HTTPProvider, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.SearchURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("fetch: invalid search url %q", cfg.SearchURL)
	}
	cfg.SearchURL = u.String()
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if client == nil {
		client = &http.Client{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTPProvider{cfg: cfg, client: client, log: log}, nil
}

func (p *HTTPProvider) Fetch(ctx context.Context, keyword string, amount int, dir string) (Result, error) {
	urls, err := p.search(ctx, keyword, amount)
	if err != nil {
		return Result{}, &Error{Op: "search", Keyword: keyword, Err: err}
	}
	if amount > 0 && len(urls) > amount {
		urls = urls[:amount]
	}
	res := Result{Matches: len(urls)}
	if len(urls) == 0 {
		return res, nil
	}

	saved := make([]bool, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i, raw := range urls {
		g.Go(func() error {
			name, err := p.download(gctx, raw, dir, i)
			if err != nil {
				// One bad item never fails the batch.
				p.log.Debug("download skipped", logx.String("url", raw), logx.Err(err))
				return nil
			}
			saved[i] = true
			p.log.Debug("downloaded", logx.String("file", name))
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return res, &Error{Op: "download", Keyword: keyword, Err: err}
	}
	for _, ok := range saved {
		if ok {
			res.Downloaded++
		}
	}
	return res, nil
}

type searchItem struct {
	URL string `json:"url"`
}

type searchEnvelope struct {
	Results []searchItem `json:"results"`
}

func (p *HTTPProvider) search(ctx context.Context, keyword string, amount int) ([]string, error) {
	u, _ := url.Parse(p.cfg.SearchURL)
	q := u.Query()
	q.Set("q", keyword)
	q.Set("limit", strconv.Itoa(amount))
	u.RawQuery = q.Encode()

	body, err := p.get(ctx, u.String(), maxSearchBody)
	if err != nil {
		return nil, err
	}
	return parseSearch(body)
}

// parseSearch accepts either a bare JSON array of URLs or {"results":[{"url":...}]}.
func parseSearch(body []byte) ([]string, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var urls []string
		if err := json.Unmarshal(body, &urls); err != nil {
			return nil, fmt.Errorf("decode search response: %w", err)
		}
		return nonEmpty(urls), nil
	}
	var env searchEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	urls := make([]string, 0, len(env.Results))
	for _, it := range env.Results {
		urls = append(urls, it.URL)
	}
	return nonEmpty(urls), nil
}

func nonEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (p *HTTPProvider) get(ctx context.Context, rawURL string, limit int64) ([]byte, error) {
	resp, cancel, err := p.do(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, errTooLarge
	}
	return b, nil
}

func (p *HTTPProvider) do(ctx context.Context, rawURL string) (*http.Response, context.CancelFunc, error) {
	cancel := context.CancelFunc(func() {})
	if p.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	resp, err := p.client.Do(req)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
		cancel()
		return nil, nil, fmt.Errorf("GET %s: status %d", redact(rawURL), resp.StatusCode)
	}
	return resp, cancel, nil
}

// download streams one item into dir. The file is closed before returning and
// removed if the body is cut short or exceeds the size cap.
func (p *HTTPProvider) download(ctx context.Context, rawURL, dir string, index int) (string, error) {
	resp, cancel, err := p.do(ctx, rawURL)
	if err != nil {
		return "", err
	}
	defer cancel()
	defer resp.Body.Close()

	name := fmt.Sprintf("%02d%s", index+1, extensionFor(rawURL, resp.Header.Get("Content-Type")))
	target := filepath.Join(dir, name)
	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	n, copyErr := io.Copy(f, io.LimitReader(resp.Body, p.cfg.MaxBytes+1))
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		err = copyErr
	case closeErr != nil:
		err = closeErr
	case n > p.cfg.MaxBytes:
		err = errTooLarge
	}
	if err != nil {
		_ = os.Remove(target)
		return "", err
	}
	return name, nil
}

var contentTypeExt = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

func extensionFor(rawURL, contentType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); media.Supported(ext) {
			return ext
		}
	}
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if ext, ok := contentTypeExt[ct]; ok {
		return ext
	}
	return ".bin"
}

func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}

// Package crawl implements batch.Processor using the Colly collector: each
// item's payload names a source URL, one fetch produces the item's result
// count from the links discovered on the page.
package crawl

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kbrapp1/sourcebatch/internal/batch"
	"github.com/kbrapp1/sourcebatch/internal/metrics"
)

// Source is the expected payload shape for crawl items.
type Source struct {
	URL string `json:"url"`
}

// Config controls collector and politeness behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	PerHostRPS   float64
	PerHostBurst int
}

// Processor fetches one source per item through a cloned Colly collector,
// throttled per host so a large batch stays polite to each origin.
type Processor struct {
	cfg           Config
	logger        *zap.Logger
	baseCollector *colly.Collector

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds a Processor.
func New(cfg Config, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	return &Processor{
		cfg:           cfg,
		logger:        logger,
		baseCollector: c,
		limiters:      make(map[string]*rate.Limiter),
	}
}

// Process fetches the item's source URL and counts discovered links. Fetch
// and transport failures come back as errors; an HTTP error status comes
// back as a rejected result. Either way the failure stays local to the item.
func (p *Processor) Process(ctx context.Context, item batch.Item) (batch.ProcessorResult, error) {
	metrics.IncActiveProcessors()
	start := time.Now()
	success := false
	defer func() {
		metrics.DecActiveProcessors()
		metrics.ObserveProcessor(success, time.Since(start))
	}()

	sourceURL, err := sourceURL(item)
	if err != nil {
		return batch.ProcessorResult{}, err
	}

	if err := p.waitForHost(ctx, sourceURL); err != nil {
		return batch.ProcessorResult{}, err
	}

	statusCode, linkCount, err := p.fetch(ctx, sourceURL)
	if err != nil {
		return batch.ProcessorResult{}, err
	}
	if statusCode >= http.StatusBadRequest {
		return batch.ProcessorResult{
			Success:      false,
			ErrorMessage: fmt.Sprintf("source returned status %d", statusCode),
		}, nil
	}

	success = true
	p.logger.Debug("source fetched",
		zap.String("item_id", item.ID),
		zap.String("url", sourceURL),
		zap.Int("status", statusCode),
		zap.Int("links", linkCount),
	)
	return batch.ProcessorResult{Success: true, ProducedCount: linkCount}, nil
}

func sourceURL(item batch.Item) (string, error) {
	switch payload := item.Payload.(type) {
	case Source:
		if payload.URL == "" {
			return "", fmt.Errorf("item %s has an empty source url", item.ID)
		}
		return payload.URL, nil
	case string:
		if payload == "" {
			return "", fmt.Errorf("item %s has an empty source url", item.ID)
		}
		return payload, nil
	default:
		return "", fmt.Errorf("item %s payload is not a crawl source", item.ID)
	}
}

// waitForHost blocks on the per-host token bucket, respecting the context.
func (p *Processor) waitForHost(ctx context.Context, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}

	p.mu.Lock()
	limiter, ok := p.limiters[host]
	if !ok {
		limit := rate.Limit(p.cfg.PerHostRPS)
		if p.cfg.PerHostRPS <= 0 {
			limit = rate.Inf
		}
		burst := p.cfg.PerHostBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(limit, burst)
		p.limiters[host] = limiter
	}
	p.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

func (p *Processor) fetch(ctx context.Context, sourceURL string) (int, int, error) {
	collector := p.baseCollector.Clone()
	if p.cfg.UserAgent != "" {
		collector.UserAgent = p.cfg.UserAgent
	}
	collector.SetRequestTimeout(p.cfg.Timeout)

	var (
		statusCode int
		linkCount  atomic.Int64
		fetchErr   error
	)
	collector.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
	})
	collector.OnHTML("a[href]", func(_ *colly.HTMLElement) {
		linkCount.Add(1)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			statusCode = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(sourceURL)
	}()

	select {
	case <-ctx.Done():
		return 0, 0, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		// An HTTP error status surfaces through both Visit and OnError;
		// report it as a status, not a transport failure.
		if statusCode >= http.StatusBadRequest {
			return statusCode, 0, nil
		}
		if err != nil {
			return 0, 0, fmt.Errorf("visit source: %w", err)
		}
		if fetchErr != nil {
			return 0, 0, fmt.Errorf("fetch source: %w", fetchErr)
		}
		return statusCode, int(linkCount.Load()), nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

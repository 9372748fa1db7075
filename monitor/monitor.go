// Package monitor re-fetches tracked pages and detects drift of the matched
// element text.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aluiziolira/go-price-watch/config"
	"github.com/aluiziolira/go-price-watch/models"
	"github.com/aluiziolira/go-price-watch/parser"
	"github.com/gocolly/colly/v2"
)

// ItemSource supplies the current watchlist snapshot.
type ItemSource interface {
	GetItems(ctx context.Context) []models.TrackedItem
}

// ChangeSink receives detected changes.
type ChangeSink interface {
	Process(changes ...*models.Change) error
}

// Monitor wraps a colly collector issuing one GET per tracked item.
type Monitor struct {
	cfg       *config.Config
	collector *colly.Collector
	items     ItemSource
	sink      ChangeSink
	matcher   *parser.Matcher
	logger    *slog.Logger
	now       func() time.Time
	Metrics   *Metrics
}

// New builds a monitor configured from cfg.
func New(cfg *config.Config, items ItemSource, sink ChangeSink) (*Monitor, error) {
	matcher, err := parser.NewMatcher(cfg.PatternCacheSize)
	if err != nil {
		return nil, err
	}

	collector := colly.NewCollector(
		colly.Async(true),
		colly.AllowURLRevisit(),
		colly.UserAgent(cfg.UserAgent),
		colly.MaxBodySize(cfg.MaxBodySize),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})
	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
	}); err != nil {
		return nil, fmt.Errorf("configure limits: %w", err)
	}

	return &Monitor{
		cfg:       cfg,
		collector: collector,
		items:     items,
		sink:      sink,
		matcher:   matcher,
		logger:    slog.Default(),
		now:       time.Now,
		Metrics:   NewMetrics(),
	}, nil
}

// Tick checks every item of the current store snapshot. Inactive items are
// skipped unless the configuration includes them.
func (m *Monitor) Tick(ctx context.Context) (*models.TickResult, error) {
	m.Metrics.IncTick()
	snapshot := m.items.GetItems(ctx)
	targets := make([]models.TrackedItem, 0, len(snapshot))
	for _, item := range snapshot {
		if item.Inactive && !m.cfg.IncludeInactive {
			continue
		}
		targets = append(targets, item)
	}
	m.Metrics.SetTracked(len(targets))
	return m.CheckItems(ctx, targets)
}

// CheckItems fetches the given items concurrently and waits for all of them.
// Fetch failures and missing matches are recorded, never returned.
func (m *Monitor) CheckItems(ctx context.Context, items []models.TrackedItem) (*models.TickResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	p := &pass{
		monitor: m,
		byID:    make(map[string]models.TrackedItem, len(items)),
		result: &models.TickResult{
			StartTime:    m.now(),
			ErrorsByType: make(map[string]int),
		},
	}

	c := m.collector.Clone()
	p.register(c)

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := parser.ValidateItem(&item); err != nil {
			m.logger.Debug("skipping unmonitorable item", slog.String("item_id", item.ID), slog.Any("error", err))
			continue
		}
		p.byID[item.ID] = item
	}

	for id, item := range p.byID {
		if ctx.Err() != nil {
			break
		}
		reqCtx := colly.NewContext()
		reqCtx.Put("item_id", id)
		if err := c.Request(http.MethodGet, item.URL, nil, reqCtx, nil); err != nil {
			p.recordError(&FetchError{Category: CategoryInvalidURL, URL: item.URL, Err: err})
		}
	}

	c.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.result.EndTime = m.now()
	result := *p.result
	return &result, ctx.Err()
}

// pass holds the state of one CheckItems call.
type pass struct {
	monitor *Monitor
	byID    map[string]models.TrackedItem

	mu     sync.Mutex
	result *models.TickResult
}

func (p *pass) register(c *colly.Collector) {
	m := p.monitor

	c.OnRequest(func(r *colly.Request) {
		r.Ctx.Put("start", time.Now())
	})

	c.OnResponse(func(r *colly.Response) {
		if start, ok := r.Ctx.GetAny("start").(time.Time); ok {
			m.Metrics.ObserveDuration(time.Since(start))
		}
		item, ok := p.byID[r.Ctx.Get("item_id")]
		if !ok {
			return
		}
		if limit := m.cfg.MaxBodySize; limit > 0 && len(r.Body) >= limit {
			m.logger.Warn("page body truncated",
				slog.String("item_id", item.ID),
				slog.String("url", item.URL),
				slog.Int("limit", limit),
			)
		}
		p.evaluate(item, r.Body)
	})

	c.OnError(func(r *colly.Response, err error) {
		statusCode := 0
		url := ""
		if r != nil {
			statusCode = r.StatusCode
			if r.Request != nil && r.Request.URL != nil {
				url = r.Request.URL.String()
			}
		}
		p.recordError(classifyError(url, err, statusCode))
	})
}

func (p *pass) evaluate(item models.TrackedItem, body []byte) {
	m := p.monitor
	text, ok := m.matcher.Match(body, item.ClassName)

	p.mu.Lock()
	p.result.Checked++
	switch {
	case !ok:
		p.result.NoMatch++
	case text == item.LastText:
		p.result.Unchanged++
	default:
		p.result.Changed++
	}
	p.mu.Unlock()

	switch {
	case !ok:
		m.Metrics.IncCheck("no_match")
		m.logger.Debug("tracked element not found", slog.String("item_id", item.ID), slog.String("class", item.ClassName))
		return
	case text == item.LastText:
		m.Metrics.IncCheck("unchanged")
		return
	}

	m.Metrics.IncCheck("changed")
	m.Metrics.IncChanges()
	change := &models.Change{
		ItemID:     item.ID,
		URL:        item.URL,
		ClassName:  item.ClassName,
		Title:      item.Title,
		OldText:    item.LastText,
		NewText:    text,
		DetectedAt: m.now(),
	}
	m.logger.Info("tracked text changed",
		slog.String("item_id", item.ID),
		slog.String("old", item.LastText),
		slog.String("new", text),
	)
	if err := m.sink.Process(change); err != nil {
		m.logger.Error("submit change", slog.String("item_id", item.ID), slog.Any("error", err))
	}
}

func (p *pass) recordError(fe *FetchError) {
	if fe == nil {
		return
	}
	category := errorTypeLabel(fe)

	p.mu.Lock()
	p.result.ErrorCount++
	p.result.ErrorsByType[category]++
	p.result.FailedURLs = append(p.result.FailedURLs, fe.URL)
	p.mu.Unlock()

	p.monitor.Metrics.IncCheck("error")
	p.monitor.Metrics.IncError(category)
	p.monitor.logger.Debug("fetch skipped", slog.String("url", fe.URL), slog.String("category", category), slog.Any("error", fe.Err))
}

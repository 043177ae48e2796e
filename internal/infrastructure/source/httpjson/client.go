package httpjson

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	sonic "github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"
	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"

	"github.com/prospectdb/prospect-stats/internal/domain/entity"
	"github.com/prospectdb/prospect-stats/internal/domain/source"
	"github.com/prospectdb/prospect-stats/internal/platform/logging"
	"github.com/prospectdb/prospect-stats/internal/platform/resilience"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultSearchPath  = "/v1/players/search"
	defaultStatsPath   = "/v1/players"
	defaultBoardPath   = "/v1/leaderboards"
	defaultHealthPath  = "/healthz"
	maxResponseBodyLog = 2048
)

var errTransient = crerr.New("httpjson transient failure")

// ClientConfig describes one JSON-over-HTTP upstream. Path templates are
// per deployment; everything else defaults.
type ClientConfig struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	SearchPath      string
	EntityStatsPath string
	LeaderboardPath string
	HealthPath      string
	Logger          *logging.Logger
	CircuitBreaker  resilience.CircuitBreakerConfig
}

// Client adapts a JSON HTTP upstream to the Source interface. Sites that
// need HTML scraping or browser automation are implemented outside this
// module; this client covers the upstreams that already speak JSON.
type Client struct {
	descriptor      source.Descriptor
	http            *fasthttp.Client
	baseURL         string
	apiKey          string
	timeout         time.Duration
	searchPath      string
	entityStatsPath string
	leaderboardPath string
	healthPath      string
	logger          *logging.Logger
	breaker         *resilience.CircuitBreaker
	circuitEnabled  bool
}

func NewClient(desc source.Descriptor, cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, crerr.Newf("source %q: base url is required", desc.Key)
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, crerr.Newf("source %q: invalid base url %q", desc.Key, cfg.BaseURL)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	breakerCfg := resilience.NormalizeCircuitBreakerConfig(cfg.CircuitBreaker)

	return &Client{
		descriptor:      desc,
		http:            &fasthttp.Client{ReadTimeout: timeout, WriteTimeout: timeout},
		baseURL:         baseURL,
		apiKey:          strings.TrimSpace(cfg.APIKey),
		timeout:         timeout,
		searchPath:      pathOrDefault(cfg.SearchPath, defaultSearchPath),
		entityStatsPath: pathOrDefault(cfg.EntityStatsPath, defaultStatsPath),
		leaderboardPath: pathOrDefault(cfg.LeaderboardPath, defaultBoardPath),
		healthPath:      pathOrDefault(cfg.HealthPath, defaultHealthPath),
		logger:          logger,
		breaker:         resilience.NewCircuitBreaker(breakerCfg.FailureThreshold, breakerCfg.OpenTimeout, breakerCfg.HalfOpenMaxReq),
		circuitEnabled:  breakerCfg.Enabled,
	}, nil
}

type recordEnvelope struct {
	Data []wireRecord `json:"data"`
}

type wireRecord struct {
	Name         string            `json:"name"`
	Affiliation  string            `json:"affiliation"`
	BirthDate    string            `json:"birthDate"`
	HeightInches *int              `json:"heightInches"`
	Region       string            `json:"region"`
	Attributes   map[string]string `json:"attributes"`
}

func (c *Client) SearchEntities(ctx context.Context, params map[string]string) ([]source.RawEntityRecord, error) {
	values := url.Values{}
	for k, v := range params {
		if strings.TrimSpace(v) != "" {
			values.Set(k, v)
		}
	}
	return c.fetchRecords(ctx, c.searchPath, values)
}

func (c *Client) GetEntityStats(ctx context.Context, entityID, season string) (*source.RawEntityRecord, error) {
	if strings.TrimSpace(entityID) == "" {
		return nil, crerr.New("entity id is required")
	}

	values := url.Values{}
	if strings.TrimSpace(season) != "" {
		values.Set("season", season)
	}

	records, err := c.fetchRecords(ctx, c.entityStatsPath+"/"+url.PathEscape(entityID)+"/stats", values)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func (c *Client) GetLeaderboard(ctx context.Context, statName, season string, limit int) ([]source.RawEntityRecord, error) {
	if strings.TrimSpace(statName) == "" {
		return nil, crerr.New("stat name is required")
	}

	values := url.Values{}
	values.Set("stat", statName)
	if strings.TrimSpace(season) != "" {
		values.Set("season", season)
	}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}

	return c.fetchRecords(ctx, c.leaderboardPath, values)
}

func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.doGET(ctx, c.healthPath, nil)
	return err
}

func (c *Client) fetchRecords(ctx context.Context, path string, values url.Values) ([]source.RawEntityRecord, error) {
	body, err := c.doGET(ctx, path, values)
	if err != nil {
		return nil, err
	}

	var envelope recordEnvelope
	if err := sonic.Unmarshal(body, &envelope); err != nil {
		return nil, crerr.Wrapf(err, "decode %s response", path)
	}

	out := make([]source.RawEntityRecord, 0, len(envelope.Data))
	for _, wire := range envelope.Data {
		if strings.TrimSpace(wire.Name) == "" {
			continue
		}
		out = append(out, c.mapRecord(wire))
	}

	return out, nil
}

func (c *Client) mapRecord(wire wireRecord) source.RawEntityRecord {
	record := source.RawEntityRecord{
		SourceKey:       c.descriptor.Key,
		DisplayName:     strings.TrimSpace(wire.Name),
		NormalizedName:  entity.NormalizeName(wire.Name),
		AffiliationName: entity.NormalizeAffiliation(wire.Affiliation),
		HeightInches:    wire.HeightInches,
		RegionCode:      strings.ToUpper(strings.TrimSpace(wire.Region)),
		Attributes:      wire.Attributes,
	}
	if parsed, err := time.Parse("2006-01-02", strings.TrimSpace(wire.BirthDate)); err == nil {
		record.BirthDate = &parsed
	}
	return record
}

// doGET issues one request honoring the ctx deadline and classifies
// failures: timeouts, connection errors, 408/429 and 5xx count against
// the breaker as transient; other statuses are permanent errors.
func (c *Client) doGET(ctx context.Context, path string, values url.Values) ([]byte, error) {
	if c.circuitEnabled {
		if err := c.breaker.Allow(); err != nil {
			c.logger.WarnContext(ctx, "source circuit breaker rejected request",
				"source_key", c.descriptor.Key,
				"state", c.breaker.State(),
			)
			return nil, fmt.Errorf("source %s temporarily unavailable: %w", c.descriptor.Key, err)
		}
	}

	requestURL := c.buildURL(path, values)

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(requestURL)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	if err := c.http.DoTimeout(req, resp, timeout); err != nil {
		callErr := crerr.Wrapf(errTransient, "get %s: %v", path, err)
		if stderrors.Is(err, fasthttp.ErrTimeout) && ctx.Err() != nil {
			callErr = ctx.Err()
		}
		c.recordCircuitResult(callErr)
		return nil, callErr
	}

	status := resp.StatusCode()
	if status/100 != 2 {
		detail := truncate(string(resp.Body()), maxResponseBodyLog)
		var callErr error
		if isRetryableStatus(status) {
			callErr = crerr.Wrapf(errTransient, "get %s: status=%d body=%s", path, status, detail)
		} else {
			callErr = crerr.Newf("get %s: status=%d body=%s", path, status, detail)
		}
		c.recordCircuitResult(callErr)
		return nil, callErr
	}

	c.recordCircuitResult(nil)
	return append([]byte(nil), resp.Body()...), nil
}

// buildURL assembles baseURL+path+query through a pooled buffer; fan-out
// traffic makes these allocations hot.
func (c *Client) buildURL(path string, values url.Values) string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	_, _ = buf.WriteString(c.baseURL)
	if !strings.HasPrefix(path, "/") {
		_ = buf.WriteByte('/')
	}
	_, _ = buf.WriteString(path)
	if len(values) > 0 {
		_ = buf.WriteByte('?')
		_, _ = buf.WriteString(values.Encode())
	}

	return buf.String()
}

func (c *Client) recordCircuitResult(err error) {
	if !c.circuitEnabled || c.breaker == nil {
		return
	}
	if err == nil {
		c.breaker.RecordSuccess()
		return
	}
	if stderrors.Is(err, errTransient) || stderrors.Is(err, context.DeadlineExceeded) {
		c.breaker.RecordFailure()
		return
	}
	c.breaker.RecordSuccess()
}

func isRetryableStatus(status int) bool {
	return status == fasthttp.StatusRequestTimeout ||
		status == fasthttp.StatusTooManyRequests ||
		status >= fasthttp.StatusInternalServerError
}

func pathOrDefault(path, fallback string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return fallback
	}
	return "/" + strings.TrimLeft(path, "/")
}

func truncate(value string, max int) string {
	if max <= 0 || len(value) <= max {
		return value
	}
	return value[:max] + "...(truncated)"
}

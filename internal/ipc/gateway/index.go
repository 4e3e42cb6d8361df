package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// IndexReader 与 service.IndexSource 相同的读取接口
type IndexReader interface {
	Reading(ctx context.Context, indexCode string, date time.Time) (decimal.Decimal, bool, error)
}

// HTTPIndexSource 价格指数服务：GET /indices/{code}?date=YYYY-MM-DD
type HTTPIndexSource struct {
	client *apiClient
}

func NewHTTPIndexSource(baseURL, token string, timeout time.Duration) *HTTPIndexSource {
	return &HTTPIndexSource{client: newAPIClient(baseURL, token, timeout)}
}

type indexReading struct {
	IndexCode string          `json:"index_code"`
	Date      string          `json:"date"`
	Value     decimal.Decimal `json:"value"`
}

// Reading 返回指定日期的公布值；未公布时 found=false，不回退到旧值
func (s *HTTPIndexSource) Reading(ctx context.Context, indexCode string, date time.Time) (decimal.Decimal, bool, error) {
	day := date.Format("2006-01-02")
	path := fmt.Sprintf("/indices/%s?date=%s", url.PathEscape(indexCode), url.QueryEscape(day))

	var out indexReading
	err := s.client.doRequest(ctx, http.MethodGet, path, nil, &out)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}
	if out.Date != "" && out.Date != day {
		// 服务返回了其他日期的数值
		return decimal.Zero, false, nil
	}
	return out.Value, true, nil
}

// CachedIndexSource 按 (指数, 日期) 精确缓存已公布值；未公布结果不缓存
type CachedIndexSource struct {
	next   IndexReader
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedIndexSource(next IndexReader, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedIndexSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedIndexSource{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

func indexCacheKey(indexCode string, date time.Time) string {
	return "ipc:index:" + indexCode + ":" + date.Format("2006-01-02")
}

func (s *CachedIndexSource) Reading(ctx context.Context, indexCode string, date time.Time) (decimal.Decimal, bool, error) {
	key := indexCacheKey(indexCode, date)
	cached, err := s.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		if v, perr := decimal.NewFromString(cached); perr == nil {
			return v, true, nil
		}
		s.logger.Warn("Discarding malformed cached index value", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		s.logger.Warn("Index cache read failed", zap.String("key", key), zap.Error(err))
	}

	v, found, err := s.next.Reading(ctx, indexCode, date)
	if err != nil || !found {
		return v, found, err
	}
	if err := s.rdb.Set(ctx, key, v.String(), s.ttl).Err(); err != nil {
		s.logger.Warn("Index cache write failed", zap.String("key", key), zap.Error(err))
	}
	return v, true, nil
}

// StaticIndexSource 固定数值表，用于离线核算与测试
type StaticIndexSource map[string]map[string]decimal.Decimal

func (s StaticIndexSource) Reading(_ context.Context, indexCode string, date time.Time) (decimal.Decimal, bool, error) {
	v, ok := s[indexCode][date.Format("2006-01-02")]
	return v, ok, nil
}

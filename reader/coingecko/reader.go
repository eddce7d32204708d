package coingecko

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"coinflow/config"
	"coinflow/logger"
	"coinflow/models"
)

// priceChangeWindows selects the percentage-change columns requested from the
// markets endpoint.
const priceChangeWindows = "1h,24h,7d,14d,30d,200d,1y"

// Reader pulls ranked market pages from the CoinGecko markets endpoint. The
// provider enforces a hard page limit of 250 records and an aggressive IP
// rate limit, so consecutive requests are separated by a configured delay and
// each request retries transient failures through a bounded backoff sequence.
type Reader struct {
	config *config.Config
	client *resty.Client
	retry  *retryer
	delay  sleeper
	log    *logger.Log
}

// NewReader creates a Reader for the configured markets endpoint. The API key
// header is attached at client construction when present; no process-wide
// client state is shared.
func NewReader(cfg *config.Config) *Reader {
	log := logger.GetLogger()
	src := cfg.Source.Coingecko

	client := resty.New().
		SetBaseURL(src.URL).
		SetTimeout(src.Timeout).
		SetHeader("Accept", "application/json")
	if src.APIKey != "" {
		client.SetHeader("x-cg-pro-api-key", src.APIKey)
	}

	reader := &Reader{
		config: cfg,
		client: client,
		retry:  newRetryer(src.Retry.MaxAttempts, src.Retry.BaseDelay),
		delay:  realSleeper{},
		log:    log,
	}

	log.WithComponent("coingecko_reader").WithFields(logger.Fields{
		"url":           src.URL,
		"page_size":     src.PageSize,
		"request_delay": src.RequestDelay.String(),
		"max_attempts":  src.Retry.MaxAttempts,
	}).Info("coingecko reader initialized")

	return reader
}

// FetchPage fetches one ranked page (1-based) of the configured size.
func (r *Reader) FetchPage(ctx context.Context, page int) ([]models.Coin, error) {
	src := r.config.Source.Coingecko
	params := map[string]string{
		"vs_currency":             src.Currency,
		"order":                   "market_cap_desc",
		"per_page":                strconv.Itoa(src.PageSize),
		"page":                    strconv.Itoa(page),
		"sparkline":               "false",
		"price_change_percentage": priceChangeWindows,
	}
	return r.fetchMarkets(ctx, fmt.Sprintf("page_%d", page), params)
}

// FetchTopN fetches the first `pages` ranked pages in page order, pausing the
// configured request delay between consecutive pages but not after the last.
func (r *Reader) FetchTopN(ctx context.Context, pages int) ([]models.Coin, error) {
	log := r.log.WithComponent("coingecko_reader").WithFields(logger.Fields{
		"operation": "fetch_top_n",
		"pages":     pages,
	})

	var coins []models.Coin
	for page := 1; page <= pages; page++ {
		pageCoins, err := r.FetchPage(ctx, page)
		if err != nil {
			return nil, err
		}
		coins = append(coins, pageCoins...)

		if page < pages {
			if err := r.delay.Sleep(ctx, r.config.Source.Coingecko.RequestDelay); err != nil {
				return nil, &FetchError{Op: "top_n_delay", Attempts: 0, Err: err}
			}
		}
	}

	log.WithFields(logger.Fields{"coins": len(coins)}).Info("top-n fetch completed")
	return coins, nil
}

// FetchByIDs fetches the given coin IDs, splitting them into page-size chunks
// to respect the provider's per-request limit. Used to refresh coins that
// dropped out of the top ranking but are still tracked.
func (r *Reader) FetchByIDs(ctx context.Context, ids []string) ([]models.Coin, error) {
	ids = cleanIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	src := r.config.Source.Coingecko
	log := r.log.WithComponent("coingecko_reader").WithFields(logger.Fields{
		"operation": "fetch_by_ids",
		"ids":       len(ids),
	})

	var coins []models.Coin
	for start := 0; start < len(ids); start += src.PageSize {
		end := start + src.PageSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		params := map[string]string{
			"vs_currency":             src.Currency,
			"ids":                     strings.Join(chunk, ","),
			"per_page":                strconv.Itoa(src.PageSize),
			"sparkline":               "false",
			"price_change_percentage": priceChangeWindows,
		}
		chunkCoins, err := r.fetchMarkets(ctx, fmt.Sprintf("ids_%d", start/src.PageSize+1), params)
		if err != nil {
			return nil, err
		}
		coins = append(coins, chunkCoins...)

		if end < len(ids) {
			if err := r.delay.Sleep(ctx, src.RequestDelay); err != nil {
				return nil, &FetchError{Op: "ids_delay", Attempts: 0, Err: err}
			}
		}
	}

	log.WithFields(logger.Fields{"coins": len(coins)}).Info("fetch by ids completed")
	return coins, nil
}

// fetchMarkets issues one markets request through the bounded retry sequence.
func (r *Reader) fetchMarkets(ctx context.Context, op string, params map[string]string) ([]models.Coin, error) {
	log := r.log.WithComponent("coingecko_reader").WithFields(logger.Fields{
		"operation": op,
	})

	var coins []models.Coin
	err := r.retry.do(ctx, op, func() error {
		start := time.Now()
		var page []models.Coin
		// The provider occasionally omits the JSON Content-Type; force
		// decoding so a 200 body is never silently discarded.
		resp, err := r.client.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetResult(&page).
			ForceContentType("application/json").
			Get("/coins/markets")
		if err != nil {
			log.WithError(err).Warn("markets request failed")
			return fmt.Errorf("markets request: %w", err)
		}
		if resp.IsError() {
			log.WithFields(logger.Fields{"status": resp.StatusCode()}).Warn("markets request returned error status")
			return fmt.Errorf("markets request status %d", resp.StatusCode())
		}

		logger.LogPerformanceEntry(log, "coingecko_reader", "api_request", time.Since(start), logger.Fields{
			"records": len(page),
		})
		logger.IncrementPageRead(len(resp.Body()))

		coins = page
		return nil
	})
	if err != nil {
		return nil, err
	}
	return coins, nil
}

// cleanIDs drops blank entries so malformed input never reaches the provider.
func cleanIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		out = append(out, id)
	}
	return out
}

package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/time/rate"

	appconfig "coinflow/config"
	"coinflow/logger"
	"coinflow/models"
)

// dynamoAPI is the slice of the DynamoDB client the persister needs, kept
// small so tests can substitute a fake.
type dynamoAPI interface {
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// sleeper abstracts the inter-retry wait so tests run without real delays.
type sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Persister writes the coin snapshot to a DynamoDB table in bounded batches.
// Writes are paced by a token bucket sized to the table's provisioned write
// capacity, and items the service reports as unprocessed are resubmitted a
// bounded number of times before being dropped for the cycle.
type Persister struct {
	config     *appconfig.Config
	client     dynamoAPI
	table      string
	batchSize  int
	maxRetries int
	limiter    *rate.Limiter
	sleep      sleeper
	log        *logger.Log

	// Metrics
	itemsWritten   int64
	batchesWritten int64
	itemsDropped   int64
	errorsCount    int64
}

// NewPersister creates a Persister from the storage configuration. It
// configures the AWS SDK the same way regardless of target: a custom
// endpoint points the client at DynamoDB Local without touching the rest.
func NewPersister(cfg *appconfig.Config) (*Persister, error) {
	log := logger.GetLogger()
	ctx := context.Background()
	dyn := cfg.Storage.Dynamo

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(dyn.Region)}
	if dyn.AccessKeyID != "" && dyn.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(dyn.AccessKeyID, dyn.SecretAccessKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("dynamo_writer").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := dynamodb.NewFromConfig(awsConfig, func(o *dynamodb.Options) {
		if dyn.Endpoint != "" {
			o.BaseEndpoint = aws.String(dyn.Endpoint)
		}
	})

	p := newPersister(cfg, client, realSleeper{})

	log.WithComponent("dynamo_writer").WithFields(logger.Fields{
		"table":          dyn.Table,
		"region":         dyn.Region,
		"write_capacity": dyn.WriteCapacity,
		"batch_size":     p.batchSize,
	}).Debug("dynamo writer initialized")

	return p, nil
}

func newPersister(cfg *appconfig.Config, client dynamoAPI, sleep sleeper) *Persister {
	dyn := cfg.Storage.Dynamo
	batchSize := dyn.BatchSize
	if batchSize <= 0 || batchSize > 25 {
		batchSize = 25
	}
	capacity := dyn.WriteCapacity
	if capacity <= 0 {
		capacity = 25
	}
	maxRetries := dyn.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	// The burst must admit a full batch or WaitN rejects it outright when
	// capacity is provisioned below the batch size; the refill rate still
	// paces sustained throughput at the configured capacity.
	burst := capacity
	if burst < batchSize {
		burst = batchSize
	}
	return &Persister{
		config:     cfg,
		client:     client,
		table:      dyn.Table,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		limiter:    rate.NewLimiter(rate.Limit(capacity), burst),
		sleep:      sleep,
		log:        logger.GetLogger(),
	}
}

// Persist writes the full coin set to the table in batches of at most the
// configured size. It returns an error only on a hard API failure or a
// cancelled context; unprocessed leftovers are logged and dropped, since the
// next persist cycle rewrites the complete snapshot anyway.
func (p *Persister) Persist(ctx context.Context, coins []models.Coin) error {
	if len(coins) == 0 {
		return nil
	}
	start := time.Now()
	written := 0

	for begin := 0; begin < len(coins); begin += p.batchSize {
		end := begin + p.batchSize
		if end > len(coins) {
			end = len(coins)
		}
		chunk := coins[begin:end]

		if err := p.limiter.WaitN(ctx, len(chunk)); err != nil {
			return fmt.Errorf("await write capacity: %w", err)
		}
		n, err := p.writeBatch(ctx, chunk)
		written += n
		if err != nil {
			atomic.AddInt64(&p.errorsCount, 1)
			return err
		}
	}

	atomic.AddInt64(&p.itemsWritten, int64(written))
	logger.IncrementStoreWrite(written)
	logger.LogPerformanceEntry(p.log.WithComponent("dynamo_writer"), "dynamo_writer", "persist", time.Since(start), logger.Fields{
		"coins":   len(coins),
		"written": written,
		"table":   p.table,
	})
	return nil
}

// writeBatch submits one chunk and resubmits whatever the service returns as
// unprocessed, backing off between attempts. Returns the number of items the
// service accepted.
func (p *Persister) writeBatch(ctx context.Context, chunk []models.Coin) (int, error) {
	requests := make([]dbtypes.WriteRequest, 0, len(chunk))
	for _, c := range chunk {
		item, err := coinItem(c)
		if err != nil {
			p.log.WithComponent("dynamo_writer").WithError(err).WithFields(logger.Fields{
				"coin_id": c.ID,
			}).Warn("skipping unmarshalable coin")
			continue
		}
		requests = append(requests, dbtypes.WriteRequest{
			PutRequest: &dbtypes.PutRequest{Item: item},
		})
	}
	if len(requests) == 0 {
		return 0, nil
	}

	submitted := len(requests)
	for attempt := 0; ; attempt++ {
		out, err := p.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]dbtypes.WriteRequest{p.table: requests},
		})
		if err != nil {
			return submitted - len(requests), fmt.Errorf("batch write to %s: %w", p.table, err)
		}
		atomic.AddInt64(&p.batchesWritten, 1)

		requests = out.UnprocessedItems[p.table]
		if len(requests) == 0 {
			return submitted, nil
		}
		if attempt >= p.maxRetries {
			atomic.AddInt64(&p.itemsDropped, int64(len(requests)))
			p.log.WithComponent("dynamo_writer").WithFields(logger.Fields{
				"table":    p.table,
				"dropped":  len(requests),
				"attempts": attempt + 1,
			}).Warn("dropping unprocessed items after retry budget")
			return submitted - len(requests), nil
		}

		delay := time.Duration(1<<uint(attempt+1))*time.Second +
			time.Duration(rand.Int63n(int64(time.Second)))
		if err := p.sleep.Sleep(ctx, delay); err != nil {
			return submitted - len(requests), fmt.Errorf("retry wait: %w", err)
		}
	}
}

// ScanIDs returns the IDs of every item currently in the table, following
// pagination until exhausted.
func (p *Persister) ScanIDs(ctx context.Context) ([]string, error) {
	var ids []string
	var startKey map[string]dbtypes.AttributeValue

	for {
		out, err := p.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(p.table),
			ProjectionExpression: aws.String("id"),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			atomic.AddInt64(&p.errorsCount, 1)
			return nil, fmt.Errorf("scan %s: %w", p.table, err)
		}
		for _, item := range out.Items {
			if v, ok := item["id"].(*dbtypes.AttributeValueMemberS); ok && v.Value != "" {
				ids = append(ids, v.Value)
			}
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	p.log.WithComponent("dynamo_writer").WithFields(logger.Fields{
		"table": p.table,
		"ids":   len(ids),
	}).Debug("scanned stored coin ids")
	return ids, nil
}

// Stats returns cumulative write metrics.
func (p *Persister) Stats() map[string]int64 {
	return map[string]int64{
		"items_written":   atomic.LoadInt64(&p.itemsWritten),
		"batches_written": atomic.LoadInt64(&p.batchesWritten),
		"items_dropped":   atomic.LoadInt64(&p.itemsDropped),
		"errors":          atomic.LoadInt64(&p.errorsCount),
	}
}

// coinItem flattens a coin into a DynamoDB item. Queryable fields get their
// own attributes; the full record rides along as a JSON document so reads
// recover every field without a schema migration.
func coinItem(c models.Coin) (map[string]dbtypes.AttributeValue, error) {
	doc, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal coin %s: %w", c.ID, err)
	}
	item := map[string]dbtypes.AttributeValue{
		"id":              &dbtypes.AttributeValueMemberS{Value: c.ID},
		"symbol":          &dbtypes.AttributeValueMemberS{Value: c.Symbol},
		"name":            &dbtypes.AttributeValueMemberS{Value: c.Name},
		"market_cap_rank": &dbtypes.AttributeValueMemberN{Value: strconv.Itoa(c.MarketCapRank)},
		"current_price":   &dbtypes.AttributeValueMemberN{Value: strconv.FormatFloat(c.CurrentPrice, 'f', -1, 64)},
		"doc":             &dbtypes.AttributeValueMemberS{Value: string(doc)},
	}
	if c.LastUpdated != nil {
		item["last_updated"] = &dbtypes.AttributeValueMemberS{Value: c.LastUpdated.UTC().Format(time.RFC3339)}
	}
	return item, nil
}

package models

import "time"

// CoinBatch is one fetched result set travelling from the fetch cycle to the
// persist cycle over the hand-off queue. A batch may span several provider
// pages; the source tag tells ranked and tracked fetches apart.
type CoinBatch struct {
	BatchID     string    `json:"batch_id"`
	Source      string    `json:"source"`
	Coins       []Coin    `json:"coins"`
	RecordCount int       `json:"record_count"`
	FetchedAt   time.Time `json:"fetched_at"`
}

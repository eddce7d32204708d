package models

import (
	"encoding/json"
	"testing"
)

func TestCoinDecodeTolerant(t *testing.T) {
	payload := `{
		"id": "bitcoin",
		"symbol": "btc",
		"name": "Bitcoin",
		"current_price": 65000.12,
		"market_cap_rank": 1,
		"total_supply": 21000000,
		"max_supply": null,
		"roi": null,
		"sparkline_in_7d": {"price": [1, 2, 3]},
		"some_future_field": true
	}`
	var c Coin
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.ID != "bitcoin" || c.Symbol != "btc" || c.Name != "Bitcoin" {
		t.Fatalf("unexpected identity fields: %+v", c)
	}
	if c.CurrentPrice != 65000.12 || c.MarketCapRank != 1 {
		t.Fatalf("unexpected market fields: %+v", c)
	}
	if c.TotalSupply == nil || *c.TotalSupply != 21000000 {
		t.Fatalf("expected total_supply pointer, got %v", c.TotalSupply)
	}
	if c.MaxSupply != nil {
		t.Fatalf("expected nil max_supply, got %v", *c.MaxSupply)
	}
	if c.ROI != nil {
		t.Fatalf("expected nil roi, got %+v", c.ROI)
	}
}

func TestCoinDecodeROI(t *testing.T) {
	payload := `{"id":"ethereum","roi":{"times":43.2,"currency":"btc","percentage":4320.5}}`
	var c Coin
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.ROI == nil || c.ROI.Times != 43.2 || c.ROI.Currency != "btc" || c.ROI.Percentage != 4320.5 {
		t.Fatalf("unexpected roi: %+v", c.ROI)
	}
}

func TestRanked(t *testing.T) {
	if (Coin{MarketCapRank: 0}).Ranked() {
		t.Fatalf("rank 0 must be unranked")
	}
	if (Coin{MarketCapRank: -1}).Ranked() {
		t.Fatalf("negative rank must be unranked")
	}
	if !(Coin{MarketCapRank: 5}).Ranked() {
		t.Fatalf("rank 5 must be ranked")
	}
}

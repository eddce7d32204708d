package models

import "time"

// ROI is the return-on-investment block some listings carry. It is absent
// for most coins, so the parent field is a pointer.
type ROI struct {
	Times      float64 `json:"times"`
	Currency   string  `json:"currency"`
	Percentage float64 `json:"percentage"`
}

// Coin is one market-data record as returned by the /coins/markets endpoint.
// Identity is the ID field alone; two records with the same ID describe the
// same coin regardless of any other field. Nullable upstream fields are
// pointers so a missing value survives a decode/encode round trip. Fields the
// provider adds later are ignored by the decoder.
type Coin struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Image  string `json:"image"`

	CurrentPrice                 float64    `json:"current_price"`
	MarketCap                    float64    `json:"market_cap"`
	MarketCapRank                int        `json:"market_cap_rank"`
	FullyDilutedValuation        *float64   `json:"fully_diluted_valuation"`
	TotalVolume                  float64    `json:"total_volume"`
	High24h                      float64    `json:"high_24h"`
	Low24h                       float64    `json:"low_24h"`
	PriceChange24h               float64    `json:"price_change_24h"`
	PriceChangePercentage24h     float64    `json:"price_change_percentage_24h"`
	MarketCapChange24h           float64    `json:"market_cap_change_24h"`
	MarketCapChangePercentage24h float64    `json:"market_cap_change_percentage_24h"`
	CirculatingSupply            float64    `json:"circulating_supply"`
	TotalSupply                  *float64   `json:"total_supply"`
	MaxSupply                    *float64   `json:"max_supply"`
	ATH                          float64    `json:"ath"`
	ATHChangePercentage          float64    `json:"ath_change_percentage"`
	ATHDate                      *time.Time `json:"ath_date"`
	ATL                          float64    `json:"atl"`
	ATLChangePercentage          float64    `json:"atl_change_percentage"`
	ATLDate                      *time.Time `json:"atl_date"`
	ROI                          *ROI       `json:"roi"`
	LastUpdated                  *time.Time `json:"last_updated"`

	PriceChangePercentage1h   *float64 `json:"price_change_percentage_1h_in_currency"`
	PriceChangePercentage24hC *float64 `json:"price_change_percentage_24h_in_currency"`
	PriceChangePercentage7d   *float64 `json:"price_change_percentage_7d_in_currency"`
	PriceChangePercentage14d  *float64 `json:"price_change_percentage_14d_in_currency"`
	PriceChangePercentage30d  *float64 `json:"price_change_percentage_30d_in_currency"`
	PriceChangePercentage200d *float64 `json:"price_change_percentage_200d_in_currency"`
	PriceChangePercentage1y   *float64 `json:"price_change_percentage_1y_in_currency"`
}

// Ranked reports whether the coin carries a usable market cap rank. The
// provider emits 0 (or omits the field) for unranked listings; those are
// excluded from top-N queries.
func (c Coin) Ranked() bool {
	return c.MarketCapRank > 0
}

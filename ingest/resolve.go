package ingest

import "fmt"

// tableAlias is the static (vendor, data_type) -> canonical table name
// alias table.
var tableAlias = map[string]string{
	"binance-spot|trades":        "crypto_trades",
	"binance-usdm|trades":        "crypto_trades",
	"okx-spot|trades":            "crypto_trades",
	"okx-swap|trades":            "crypto_trades",
	"binance-spot|book_updates":  "crypto_book_updates",
	"binance-usdm|book_updates":  "crypto_book_updates",
	"okx-spot|quotes":            "crypto_quotes",
	"okx-swap|quotes":            "crypto_quotes",
	"binance-usdm|deriv_ticker":  "crypto_deriv_ticker",
	"binance-usdm|liquidations":  "crypto_liquidations",
	"deribit|options_chain":      "crypto_options_chain",
	"szse|l3_order_events":       "cn_l3_order_events",
	"sse|l3_tick_events":         "cn_l3_tick_events",
}

// ResolveTable maps (vendor, data_type) to a canonical table name,
// rejecting unknown combinations.
func ResolveTable(vendor, dataType string) (string, error) {
	name, ok := tableAlias[vendor+"|"+dataType]
	if !ok {
		return "", fmt.Errorf("ingest: no canonical table for vendor=%q data_type=%q", vendor, dataType)
	}
	return name, nil
}

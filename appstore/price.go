package appstore

import (
	"strconv"
	"strings"
)

// freeLabels are price labels that mean "no charge" on the store pages.
// The store localizes the label per storefront.
var freeLabels = map[string]bool{
	"free":      true,
	"get":       true,
	"ücretsiz":  true,
	"gratis":    true,
	"gratuit":   true,
	"kostenlos": true,
}

// currencySymbols maps leading price symbols to ISO currency codes.
var currencySymbols = map[string]string{
	"$": "USD",
	"€": "EUR",
	"£": "GBP",
	"₺": "TRY",
	"¥": "JPY",
}

// ParsePrice parses a price label from a store page into an amount and
// a currency hint. Labels like "Free" yield (0, ""). Unparseable labels
// yield (0, "") as well since chart pages sometimes show action labels
// instead of prices.
func ParsePrice(label string) (float64, string) {
	label = strings.TrimSpace(label)
	if label == "" || freeLabels[strings.ToLower(label)] {
		return 0, ""
	}

	currency := ""
	for sym, code := range currencySymbols {
		if strings.Contains(label, sym) {
			currency = code
			label = strings.ReplaceAll(label, sym, "")
			break
		}
	}

	label = strings.TrimSpace(label)

	// Storefronts differ on decimal separators. Treat a trailing
	// two-digit comma group as a decimal comma ("24,99"), otherwise
	// strip commas as thousands separators.
	if i := strings.LastIndex(label, ","); i >= 0 && len(label)-i-1 == 2 {
		label = strings.ReplaceAll(label[:i], ",", "") + "." + label[i+1:]
	} else {
		label = strings.ReplaceAll(label, ",", "")
	}

	amount, err := strconv.ParseFloat(label, 64)
	if err != nil || amount < 0 {
		return 0, ""
	}
	return amount, currency
}

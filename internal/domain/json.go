package domain

import "github.com/shopspring/decimal"

func init() {
	// Money goes over the wire as JSON numbers. Quoted input is still accepted.
	decimal.MarshalJSONWithoutQuotes = true
}

/**
 * @description
 * This file holds the published commission rate table. Rates are fixed
 * constants attached 1:1 to each product type, defined at deploy time and
 * never derived from user input.
 *
 * @notes
 * - The revenue split on top of the base commission is the same for every
 *   product: 30% company share, then 50% of the remaining partner share is
 *   actually credited, so a partner always earns premium * rate * 0.35.
 */

package commission

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/sigortaplus/earnings-service/internal/domain"
)

var (
	ErrUnknownProductType = errors.New("unknown product type")
	ErrInvalidPremium     = errors.New("total premium must be a positive amount")
)

// CompanyShareRate is the fraction of the base commission kept by the company.
var CompanyShareRate = decimal.RequireFromString("0.30")

// PartnerSplitRate is the fraction of the partner share actually credited
// to the partner's wallet; the remainder funds partner-tier bonuses.
var PartnerSplitRate = decimal.RequireFromString("0.50")

var rates = map[domain.ProductType]decimal.Decimal{
	domain.ProductTrafik: decimal.RequireFromString("0.10"),
	domain.ProductKasko:  decimal.RequireFromString("0.15"),
	domain.ProductTSS:    decimal.RequireFromString("0.12"),
	domain.ProductOSS:    decimal.RequireFromString("0.08"),
	domain.ProductDask:   decimal.RequireFromString("0.125"),
	domain.ProductKonut:  decimal.RequireFromString("0.14"),
}

// RateOf returns the commission rate for the given product type.
func RateOf(productType domain.ProductType) (decimal.Decimal, error) {
	rate, ok := rates[productType]
	if !ok {
		return decimal.Zero, ErrUnknownProductType
	}
	return rate, nil
}

// IsValidProductType reports whether the candidate names a product in the
// closed set. Total; never fails.
func IsValidProductType(candidate string) bool {
	_, ok := rates[domain.ProductType(candidate)]
	return ok
}

// ProductTypes returns the closed set in stable alphabetical order,
// for the published rate-table endpoint.
func ProductTypes() []domain.ProductType {
	out := make([]domain.ProductType, 0, len(rates))
	for pt := range rates {
		out = append(out, pt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

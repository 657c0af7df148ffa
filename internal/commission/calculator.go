/**
 * @description
 * This file implements the earnings calculator: a pure function that turns a
 * (product type, total premium) pair into a full commission breakdown.
 *
 * @notes
 * - All intermediate products are kept at full decimal precision; each output
 *   field is rounded half-up to 2 decimal places only at the end, so rounding
 *   error never compounds across the derived fields.
 * - No I/O, no randomness, no hidden state. Identical inputs always yield
 *   identical outputs.
 */

package commission

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/sigortaplus/earnings-service/internal/domain"
)

// Breakdown is the value object produced by Calculate. It is created fresh
// per request and never mutated after construction.
type Breakdown struct {
	ProductType    domain.ProductType
	TotalPremium   decimal.Decimal
	CommissionRate decimal.Decimal
	BaseCommission decimal.Decimal
	CompanyShare   decimal.Decimal
	PartnerShare   decimal.Decimal
	PartnerEarning decimal.Decimal
}

// Calculate computes the commission breakdown for a premium.
//
// baseCommission = premium * rate
// companyShare   = baseCommission * CompanyShareRate
// partnerShare   = baseCommission - companyShare
// partnerEarning = partnerShare * PartnerSplitRate
func Calculate(productType domain.ProductType, totalPremium decimal.Decimal) (Breakdown, error) {
	rate, err := RateOf(productType)
	if err != nil {
		return Breakdown{}, fmt.Errorf("%w: %q", ErrUnknownProductType, productType)
	}
	if !totalPremium.IsPositive() {
		return Breakdown{}, fmt.Errorf("%w: got %s", ErrInvalidPremium, totalPremium)
	}
	// Premiums are quoted in kurus; sub-cent input would make the persisted
	// premium disagree with the commission computed from it.
	if !totalPremium.Equal(totalPremium.Round(2)) {
		return Breakdown{}, fmt.Errorf("%w: %s has more than 2 decimal places", ErrInvalidPremium, totalPremium)
	}

	base := totalPremium.Mul(rate)
	companyShare := base.Mul(CompanyShareRate)
	partnerShare := base.Sub(companyShare)
	partnerEarning := partnerShare.Mul(PartnerSplitRate)

	return Breakdown{
		ProductType:    productType,
		TotalPremium:   totalPremium.Round(2),
		CommissionRate: rate,
		BaseCommission: base.Round(2),
		CompanyShare:   companyShare.Round(2),
		PartnerShare:   partnerShare.Round(2),
		PartnerEarning: partnerEarning.Round(2),
	}, nil
}

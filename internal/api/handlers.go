/**
 * @description
 * This file contains the HTTP handlers for the earnings-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/commission, internal/domain, internal/store: Service logic, rate table, models, custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sigortaplus/earnings-service/internal/app"
	"github.com/sigortaplus/earnings-service/internal/commission"
	"github.com/sigortaplus/earnings-service/internal/domain"
	"github.com/sigortaplus/earnings-service/internal/store"
)

// EarningHandlers holds the application service that handlers will use.
type EarningHandlers struct {
	service *app.Service
}

// NewEarningHandlers creates a new instance of EarningHandlers.
func NewEarningHandlers(service *app.Service) *EarningHandlers {
	return &EarningHandlers{service: service}
}

type earningPayload struct {
	ID             string      `json:"id"`
	PartnerName    string      `json:"partner_name,omitempty"`
	AffiliateID    string      `json:"affiliate_id"`
	ProductType    string      `json:"product_type"`
	TotalPremium   json.Number `json:"total_premium"`
	CommissionRate json.Number `json:"commission_rate"`
	BaseCommission json.Number `json:"base_commission"`
	CompanyShare   json.Number `json:"company_share"`
	PartnerShare   json.Number `json:"partner_share"`
	PartnerEarning json.Number `json:"partner_earning"`
	Status         string      `json:"status"`
}

type walletPayload struct {
	PreviousBalance json.Number `json:"previous_balance"`
	NewBalance      json.Number `json:"new_balance"`
	Credited        json.Number `json:"credited"`
}

type processEarningResponse struct {
	Success bool           `json:"success"`
	Earning earningPayload `json:"earning"`
	Wallet  walletPayload  `json:"wallet"`
}

// money renders a decimal as a bare JSON number with 2 decimal places.
func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

func buildEarningPayload(earning *domain.Earning, partnerName string) earningPayload {
	return earningPayload{
		ID:             earning.ID.String(),
		PartnerName:    partnerName,
		AffiliateID:    earning.AffiliateCode,
		ProductType:    string(earning.ProductType),
		TotalPremium:   money(earning.TotalPremium),
		CommissionRate: json.Number(earning.CommissionRate.String()),
		BaseCommission: money(earning.BaseCommission),
		CompanyShare:   money(earning.CompanyShare),
		PartnerShare:   money(earning.PartnerShare),
		PartnerEarning: money(earning.PartnerEarning),
		Status:         earning.Status,
	}
}

// ProcessEarningHandler handles requests to compute and credit a commission
// for a lead.
func (h *EarningHandlers) ProcessEarningHandler(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := GetOperatorID(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "Could not resolve operator from request")
		return
	}

	var req domain.ProcessEarningRequest
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=process_earning outcome=reject reason=invalid_json err=%v", err)
		writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.ProcessEarning(r.Context(), operatorID, req)
	if err != nil {
		h.writeProcessEarningError(w, operatorID, err)
		return
	}

	log.Printf("level=info component=api endpoint=process_earning outcome=success operator_id=%s earning_id=%s credited=%s",
		operatorID, result.Earning.ID, result.Credited.StringFixed(2))

	writeJSON(w, http.StatusOK, processEarningResponse{
		Success: true,
		Earning: buildEarningPayload(result.Earning, result.PartnerName),
		Wallet: walletPayload{
			PreviousBalance: money(result.PreviousBalance),
			NewBalance:      money(result.NewBalance),
			Credited:        money(result.Credited),
		},
	})
}

func (h *EarningHandlers) writeProcessEarningError(w http.ResponseWriter, operatorID uuid.UUID, err error) {
	log.Printf("level=warn component=api endpoint=process_earning outcome=failed operator_id=%s err=%v", operatorID, err)

	switch {
	case errors.Is(err, app.ErrUnauthorized):
		writeJSONError(w, http.StatusUnauthorized, "Operator could not be resolved")
	case errors.Is(err, app.ErrForbidden):
		writeJSONError(w, http.StatusForbidden, "Central finance privilege required")
	case errors.Is(err, app.ErrInvalidInput):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrMissingReferral):
		writeJSONError(w, http.StatusBadRequest, "Lead has no affiliate code; earning cannot be attributed")
	case errors.Is(err, store.ErrLeadNotFound):
		writeJSONError(w, http.StatusNotFound, "Lead not found")
	case errors.Is(err, store.ErrPartnerNotFound):
		writeJSONError(w, http.StatusNotFound, "No partner matches the lead's affiliate code")
	case errors.Is(err, app.ErrAlreadyProcessed):
		writeJSONError(w, http.StatusConflict, "An earning has already been processed for this lead")
	case errors.Is(err, app.ErrRateLimited):
		writeJSONError(w, http.StatusTooManyRequests, "Too many earning requests; slow down")
	default:
		writeJSONError(w, http.StatusInternalServerError, "Unable to process earning")
	}
}

// GetRatesHandler serves the published commission rate table.
func (h *EarningHandlers) GetRatesHandler(w http.ResponseWriter, r *http.Request) {
	type rateEntry struct {
		ProductType      string      `json:"product_type"`
		CommissionRate   json.Number `json:"commission_rate"`
		PartnerEarnsOfIt json.Number `json:"partner_earning_rate"`
	}

	partnerFraction := decimal.NewFromInt(1).Sub(commission.CompanyShareRate).Mul(commission.PartnerSplitRate)

	entries := make([]rateEntry, 0, len(commission.ProductTypes()))
	for _, productType := range commission.ProductTypes() {
		rate, err := commission.RateOf(productType)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "Rate table unavailable")
			return
		}
		entries = append(entries, rateEntry{
			ProductType:      string(productType),
			CommissionRate:   json.Number(rate.String()),
			PartnerEarnsOfIt: json.Number(rate.Mul(partnerFraction).String()),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"company_share_rate": json.Number(commission.CompanyShareRate.String()),
		"partner_split_rate": json.Number(commission.PartnerSplitRate.String()),
		"rates":              entries,
	})
}

// GetEarningHandler fetches one earning by id for the back office.
func (h *EarningHandlers) GetEarningHandler(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := GetOperatorID(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "Could not resolve operator from request")
		return
	}

	earningID, err := uuid.Parse(chi.URLParam(r, "earningID"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Earning id must be a valid uuid")
		return
	}

	detail, err := h.service.GetEarning(r.Context(), operatorID, earningID)
	if err != nil {
		h.writeReadError(w, "get_earning", operatorID, err)
		return
	}

	writeJSON(w, http.StatusOK, buildEarningPayload(detail.Earning, detail.Partner.Name))
}

// ListPartnerEarningsHandler lists a partner's earnings plus the current
// wallet balance, keyed by affiliate code.
func (h *EarningHandlers) ListPartnerEarningsHandler(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := GetOperatorID(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "Could not resolve operator from request")
		return
	}

	affiliateCode := chi.URLParam(r, "affiliateCode")
	summary, err := h.service.PartnerEarnings(r.Context(), operatorID, affiliateCode)
	if err != nil {
		h.writeReadError(w, "partner_earnings", operatorID, err)
		return
	}

	earnings := make([]earningPayload, 0, len(summary.Earnings))
	for i := range summary.Earnings {
		earnings = append(earnings, buildEarningPayload(&summary.Earnings[i], summary.Partner.Name))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"partner": map[string]interface{}{
			"id":             summary.Partner.ID.String(),
			"name":           summary.Partner.Name,
			"affiliate_code": summary.Partner.AffiliateCode,
			"wallet_balance": money(summary.Partner.WalletBalance),
		},
		"earnings": earnings,
	})
}

func (h *EarningHandlers) writeReadError(w http.ResponseWriter, endpoint string, operatorID uuid.UUID, err error) {
	log.Printf("level=warn component=api endpoint=%s outcome=failed operator_id=%s err=%v", endpoint, operatorID, err)

	switch {
	case errors.Is(err, app.ErrUnauthorized):
		writeJSONError(w, http.StatusUnauthorized, "Operator could not be resolved")
	case errors.Is(err, app.ErrForbidden):
		writeJSONError(w, http.StatusForbidden, "Central finance privilege required")
	case errors.Is(err, store.ErrEarningNotFound):
		writeJSONError(w, http.StatusNotFound, "Earning not found")
	case errors.Is(err, store.ErrPartnerNotFound):
		writeJSONError(w, http.StatusNotFound, "Partner not found")
	default:
		writeJSONError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

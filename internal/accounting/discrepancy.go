package accounting

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ramincsy/Sarafchi/internal/models"
)

// SuggestionCurrencies is the whitelist of currencies suggestions are
// derived for, in emission order.
var SuggestionCurrencies = []string{"USDT", "Toman"}

// DefaultThresholds is the minimum imbalance, per currency, below which the
// auto-rebalancer leaves the ledger alone.
var DefaultThresholds = map[string]decimal.Decimal{
	"USDT":  decimal.NewFromInt(1),
	"Toman": decimal.NewFromInt(10000),
}

// BalanceTotals reduces an aggregate to the plain balance component per
// currency. Suggestions and discrepancies compare only this component.
func BalanceTotals(users []models.AggregatedUser) map[string]decimal.Decimal {
	totals := make(map[string]decimal.Decimal)
	for i := range users {
		for currency, components := range users[i].Balances {
			totals[currency] = totals[currency].Add(components.Balance)
		}
	}
	return totals
}

// Discrepancies compares user-side and company-side balance totals for every
// currency present on either side; a missing side counts as zero. The
// difference is signed: userBalance - companyBalance.
func Discrepancies(userTotals, companyTotals map[string]decimal.Decimal) []models.Discrepancy {
	currencies := make(map[string]bool)
	for c := range userTotals {
		currencies[c] = true
	}
	for c := range companyTotals {
		currencies[c] = true
	}

	ordered := make([]string, 0, len(currencies))
	for c := range currencies {
		ordered = append(ordered, c)
	}
	sort.Strings(ordered)

	result := make([]models.Discrepancy, 0, len(ordered))
	for _, currency := range ordered {
		user := userTotals[currency]
		company := companyTotals[currency]
		result = append(result, models.Discrepancy{
			Currency:       currency,
			UserBalance:    user,
			CompanyBalance: company,
			Difference:     user.Sub(company),
		})
	}
	return result
}

// Imbalance derives the corrective action and its magnitude for one
// currency. A company surplus means the company should sell the currency to
// users; a company shortfall means it should buy. Returns ok=false when the
// two sides are exactly balanced.
func Imbalance(currency string, userTotal, companyTotal decimal.Decimal) (action string, diff decimal.Decimal, ok bool) {
	switch {
	case companyTotal.GreaterThan(userTotal):
		return "sell_" + strings.ToLower(currency), companyTotal.Sub(userTotal), true
	case companyTotal.LessThan(userTotal):
		return "buy_" + strings.ToLower(currency), userTotal.Sub(companyTotal), true
	default:
		return "", decimal.Zero, false
	}
}

// Suggestions emits one corrective action per whitelisted currency with a
// non-zero imbalance. The lookup callback resolves an existing non-terminal
// proposal for the currency so callers can avoid duplicate action; it may be
// nil when no proposal context is available.
func Suggestions(userTotals, companyTotals map[string]decimal.Decimal, lookup func(currency string) *int64) []models.Suggestion {
	suggestions := make([]models.Suggestion, 0, len(SuggestionCurrencies))
	for _, currency := range SuggestionCurrencies {
		action, diff, ok := Imbalance(currency, userTotals[currency], companyTotals[currency])
		if !ok {
			continue
		}
		var proposalID *int64
		if lookup != nil {
			proposalID = lookup(currency)
		}
		suggestions = append(suggestions, models.Suggestion{
			Action:     action,
			Currency:   currency,
			Amount:     diff,
			Message:    suggestionMessage(currency, action),
			ProposalID: proposalID,
		})
	}
	return suggestions
}

func suggestionMessage(currency, action string) string {
	if strings.HasPrefix(action, "sell") {
		return fmt.Sprintf("Company %s balance exceeds user balances; selling %s is suggested to restore equilibrium.", currency, currency)
	}
	return fmt.Sprintf("Company %s balance is below user balances; buying %s is suggested to restore equilibrium.", currency, currency)
}

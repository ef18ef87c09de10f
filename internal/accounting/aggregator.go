// Package accounting turns raw ledger snapshot rows into per-user and
// per-currency aggregates and derives rebalancing suggestions from them.
package accounting

import (
	"sort"

	"github.com/ramincsy/Sarafchi/internal/models"
)

// Aggregate groups ledger rows by user and collects one BalanceComponents
// entry per currency whose role passes the filter.
//
// Every row's role is recorded on the user regardless of the filter: role
// visibility is independent of balance filtering. A currency that already
// has an entry for a user is skipped, not merged: a user can legitimately
// appear in several matching roles and only the first row counts. Users
// whose balances map ends up empty are dropped from the result.
func Aggregate(rows []models.LedgerRow, roleFilter map[string]bool) []models.AggregatedUser {
	users := make(map[int64]*models.AggregatedUser)
	order := make([]int64, 0)

	for i := range rows {
		row := &rows[i]
		user, ok := users[row.UserID]
		if !ok {
			user = &models.AggregatedUser{
				UserID:   row.UserID,
				Name:     row.DisplayName(),
				Balances: make(map[string]models.BalanceComponents),
			}
			users[row.UserID] = user
			order = append(order, row.UserID)
		}
		user.Roles = appendRole(user.Roles, row.RoleName)

		if !roleFilter[row.RoleName] {
			continue
		}
		currency := row.CurrencyType
		if currency == "" || currency == models.CurrencyNone {
			continue
		}
		if _, exists := user.Balances[currency]; exists {
			continue
		}
		user.Balances[currency] = models.ComponentsFromRow(row)
	}

	result := make([]models.AggregatedUser, 0, len(order))
	for _, id := range order {
		if len(users[id].Balances) == 0 {
			continue
		}
		result = append(result, *users[id])
	}
	return result
}

// Totals sums every balance component across users, per currency.
func Totals(users []models.AggregatedUser) models.CurrencyTotals {
	totals := make(models.CurrencyTotals)
	for i := range users {
		for currency, components := range users[i].Balances {
			totals[currency] = totals[currency].Add(components)
		}
	}
	return totals
}

// FilterRole returns the raw rows whose role matches exactly, preserving
// input order. Used by the partner balances endpoint.
func FilterRole(rows []models.LedgerRow, role string) []models.LedgerRow {
	filtered := make([]models.LedgerRow, 0)
	for i := range rows {
		if rows[i].RoleName == role {
			filtered = append(filtered, rows[i])
		}
	}
	return filtered
}

func appendRole(roles []string, role string) []string {
	idx := sort.SearchStrings(roles, role)
	if idx < len(roles) && roles[idx] == role {
		return roles
	}
	roles = append(roles, "")
	copy(roles[idx+1:], roles[idx:])
	roles[idx] = role
	return roles
}

package accounting

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramincsy/Sarafchi/internal/models"
)

func row(userID int64, name, role, currency string, balance int64) models.LedgerRow {
	return models.LedgerRow{
		UserID:       userID,
		FirstName:    name,
		RoleName:     role,
		CurrencyType: currency,
		Balance:      decimal.NewFromInt(balance),
	}
}

func TestAggregate_GroupsByUserAndCurrency(t *testing.T) {
	rows := []models.LedgerRow{
		row(1, "Ali", "Customer", "USDT", 100),
		row(1, "Ali", "Customer", "Toman", 5000),
		row(2, "Sara", "Customer", "USDT", 40),
	}

	users := Aggregate(rows, models.UserRoles)
	require.Len(t, users, 2)

	assert.Equal(t, int64(1), users[0].UserID)
	assert.Equal(t, "Ali", users[0].Name)
	assert.Len(t, users[0].Balances, 2)
	assert.True(t, users[0].Balances["USDT"].Balance.Equal(decimal.NewFromInt(100)))
	assert.True(t, users[1].Balances["USDT"].Balance.Equal(decimal.NewFromInt(40)))
}

func TestAggregate_Deterministic(t *testing.T) {
	rows := []models.LedgerRow{
		row(3, "C", "Customer", "USDT", 1),
		row(1, "A", "Customer", "USDT", 2),
		row(2, "B", "Customer", "Toman", 3),
		row(1, "A", "Profit", "Toman", 4),
	}

	first := Aggregate(rows, models.UserRoles)
	for i := 0; i < 10; i++ {
		again := Aggregate(rows, models.UserRoles)
		assert.Equal(t, first, again)
	}
	// Output order follows first appearance in the input.
	assert.Equal(t, int64(3), first[0].UserID)
	assert.Equal(t, int64(1), first[1].UserID)
	assert.Equal(t, int64(2), first[2].UserID)
}

func TestAggregate_DuplicateCurrencyKeepsFirstRow(t *testing.T) {
	rows := []models.LedgerRow{
		row(1, "Ali", "Customer", "USDT", 100),
		row(1, "Ali", "Profit", "USDT", 999),
	}

	users := Aggregate(rows, models.UserRoles)
	require.Len(t, users, 1)

	// The second row matches the filter too, but the currency entry is not
	// merged or overwritten.
	assert.True(t, users[0].Balances["USDT"].Balance.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, []string{"Customer", "Profit"}, users[0].Roles)
}

func TestAggregate_RolesRecordedEvenWhenFiltered(t *testing.T) {
	rows := []models.LedgerRow{
		row(1, "Ali", "Customer", "USDT", 100),
		row(1, "Ali", "Trader", "USDT", 500),
	}

	users := Aggregate(rows, models.UserRoles)
	require.Len(t, users, 1)

	// Trader is company-side and contributes no balance here, but it still
	// shows up in the role list.
	assert.Equal(t, []string{"Customer", "Trader"}, users[0].Roles)
	assert.True(t, users[0].Balances["USDT"].Balance.Equal(decimal.NewFromInt(100)))
}

func TestAggregate_SkipsPlaceholderCurrencies(t *testing.T) {
	rows := []models.LedgerRow{
		row(1, "Ali", "Customer", models.CurrencyNone, 10),
		row(1, "Ali", "Customer", "", 20),
		row(2, "Sara", "Customer", "USDT", 30),
	}

	users := Aggregate(rows, models.UserRoles)
	require.Len(t, users, 1)
	assert.Equal(t, int64(2), users[0].UserID)
}

func TestAggregate_DropsUsersWithNoBalances(t *testing.T) {
	rows := []models.LedgerRow{
		row(1, "Ali", "Trader", "USDT", 100), // company role filtered out
		row(2, "Sara", "Customer", "USDT", 50),
	}

	users := Aggregate(rows, models.UserRoles)
	require.Len(t, users, 1)
	assert.Equal(t, int64(2), users[0].UserID)
}

func TestTotals_SumsComponentwise(t *testing.T) {
	a := row(1, "A", "Customer", "USDT", 100)
	a.Debt = decimal.NewFromInt(7)
	b := row(2, "B", "Customer", "USDT", 50)
	b.Debt = decimal.NewFromInt(3)
	c := row(3, "C", "Customer", "Toman", 9000)

	users := Aggregate([]models.LedgerRow{a, b, c}, models.UserRoles)
	totals := Totals(users)

	assert.True(t, totals["USDT"].Balance.Equal(decimal.NewFromInt(150)))
	assert.True(t, totals["USDT"].Debt.Equal(decimal.NewFromInt(10)))
	assert.True(t, totals["Toman"].Balance.Equal(decimal.NewFromInt(9000)))
}

func TestTotals_AdditiveOverPartitions(t *testing.T) {
	rows := []models.LedgerRow{
		row(1, "A", "Customer", "USDT", 10),
		row(2, "B", "Customer", "USDT", 20),
		row(3, "C", "Customer", "USDT", 30),
		row(4, "D", "Customer", "Toman", 40),
	}
	users := Aggregate(rows, models.UserRoles)

	whole := Totals(users)
	left := Totals(users[:2])
	right := Totals(users[2:])

	for currency := range whole {
		combined := left[currency].Add(right[currency])
		assert.True(t, whole[currency].Balance.Equal(combined.Balance), currency)
	}
}

func TestFilterRole_ExactMatchPreservesOrder(t *testing.T) {
	rows := []models.LedgerRow{
		row(1, "A", "Partner", "USDT", 10),
		row(2, "B", "Customer", "USDT", 20),
		row(3, "C", "Partner", "Toman", 30),
	}

	partners := FilterRole(rows, models.PartnerRole)
	require.Len(t, partners, 2)
	assert.Equal(t, int64(1), partners[0].UserID)
	assert.Equal(t, int64(3), partners[1].UserID)
}

package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// LedgerRow is one row of the bulk ledger snapshot: a single
// (user, role, currency) combination with its balance components.
type LedgerRow struct {
	UserID              int64           `bson:"user_id" json:"UserID"`
	FirstName           string          `bson:"first_name" json:"FirstName"`
	LastName            string          `bson:"last_name" json:"LastName"`
	RoleName            string          `bson:"role_name" json:"RoleName"`
	CurrencyType        string          `bson:"currency_type" json:"CurrencyType"`
	Balance             decimal.Decimal `bson:"balance" json:"Balance"`
	WithdrawableBalance decimal.Decimal `bson:"withdrawable_balance" json:"WithdrawableBalance"`
	LockedBalance       decimal.Decimal `bson:"locked_balance" json:"LockedBalance"`
	Debt                decimal.Decimal `bson:"debt" json:"Debt"`
	Credit              decimal.Decimal `bson:"credit" json:"Credit"`
	LoanAmount          decimal.Decimal `bson:"loan_amount" json:"LoanAmount"`
}

// DisplayName joins the first and last name, tolerating either being empty.
func (r *LedgerRow) DisplayName() string {
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

// BalanceComponents holds every monetary component tracked per currency.
type BalanceComponents struct {
	Balance             decimal.Decimal `json:"balance"`
	WithdrawableBalance decimal.Decimal `json:"withdrawable_balance"`
	LockedBalance       decimal.Decimal `json:"locked_balance"`
	Debt                decimal.Decimal `json:"debt"`
	Credit              decimal.Decimal `json:"credit"`
	LoanAmount          decimal.Decimal `json:"loan_amount"`
}

// Add returns the component-wise sum of two BalanceComponents.
func (b BalanceComponents) Add(other BalanceComponents) BalanceComponents {
	return BalanceComponents{
		Balance:             b.Balance.Add(other.Balance),
		WithdrawableBalance: b.WithdrawableBalance.Add(other.WithdrawableBalance),
		LockedBalance:       b.LockedBalance.Add(other.LockedBalance),
		Debt:                b.Debt.Add(other.Debt),
		Credit:              b.Credit.Add(other.Credit),
		LoanAmount:          b.LoanAmount.Add(other.LoanAmount),
	}
}

// ComponentsFromRow copies the monetary columns of a ledger row.
func ComponentsFromRow(row *LedgerRow) BalanceComponents {
	return BalanceComponents{
		Balance:             row.Balance,
		WithdrawableBalance: row.WithdrawableBalance,
		LockedBalance:       row.LockedBalance,
		Debt:                row.Debt,
		Credit:              row.Credit,
		LoanAmount:          row.LoanAmount,
	}
}

// AggregatedUser is a user with the union of their roles and one
// BalanceComponents entry per currency that passed the role filter.
type AggregatedUser struct {
	UserID   int64                        `json:"user_id"`
	Name     string                       `json:"name"`
	Roles    []string                     `json:"roles"`
	Balances map[string]BalanceComponents `json:"balances"`
}

// CurrencyTotals is the component-wise sum over a set of aggregated users,
// keyed by currency.
type CurrencyTotals map[string]BalanceComponents

// Discrepancy is the signed balance difference for one currency between the
// user-side and company-side aggregates.
type Discrepancy struct {
	Currency       string          `json:"currency"`
	UserBalance    decimal.Decimal `json:"user_balance"`
	CompanyBalance decimal.Decimal `json:"company_balance"`
	Difference     decimal.Decimal `json:"difference"`
}

// Suggestion is a corrective action derived from a currency imbalance. The
// ProposalID points at an existing non-terminal proposal for the same
// currency, if any, so callers can avoid duplicate action.
type Suggestion struct {
	Action     string          `json:"action"`
	Currency   string          `json:"currency"`
	Amount     decimal.Decimal `json:"amount"`
	Message    string          `json:"message"`
	ProposalID *int64          `json:"ProposalID"`
}

// Role classes. A ledger row counts toward the user-side or company-side
// aggregate depending on which class its role belongs to; neutral roles are
// recorded for display but never contribute to either aggregate.
var (
	CompanyRoles = map[string]bool{"Partner": true, "Trader": true, "Bank": true, "Treasury": true}
	UserRoles    = map[string]bool{"Customer": true, "Profit": true}
	NeutralRoles = map[string]bool{"Pool": true, "Developer": true}
)

// PartnerRole is the single role exposed by the partner balances endpoint.
const PartnerRole = "Partner"

// Currency sentinel emitted by the snapshot for rows with no wallet.
const CurrencyNone = "N/A"

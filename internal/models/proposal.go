package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Proposal lifecycle states. Pending may move to Confirmed or Expired,
// Confirmed may move to Completed. Completed and Expired are terminal.
const (
	ProposalPending   = "Pending"
	ProposalConfirmed = "Confirmed"
	ProposalCompleted = "Completed"
	ProposalExpired   = "Expired"
)

// ProposalTTL is how long a Pending proposal stays actionable before the
// expiry sweep marks it Expired.
const ProposalTTL = 2 * time.Minute

// Proposal is a recorded intent to rebalance a company/user currency
// imbalance via a buy/sell action.
type Proposal struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	ProposalID     int64              `bson:"proposal_id" json:"ProposalID"`
	CreatedAt      time.Time          `bson:"created_at" json:"CreatedAt"`
	CreatedBy      int64              `bson:"created_by" json:"CreatedBy"`
	ProposalType   string             `bson:"proposal_type" json:"ProposalType"` // sell_usdt, buy_usdt, sell_toman, buy_toman
	Currency       string             `bson:"currency" json:"Currency"`
	Amount         decimal.Decimal    `bson:"amount" json:"Amount"`
	Price          decimal.Decimal    `bson:"price" json:"Price"`
	TotalValue     decimal.Decimal    `bson:"total_value" json:"TotalValue"`
	Status         string             `bson:"status" json:"Status"`
	ConfirmedBy    *int64             `bson:"confirmed_by,omitempty" json:"ConfirmedBy"`
	ConfirmedAt    *time.Time         `bson:"confirmed_at,omitempty" json:"ConfirmedAt"`
	CompletedAt    *time.Time         `bson:"completed_at,omitempty" json:"CompletedAt"`
	PartnerID      *int64             `bson:"partner_id,omitempty" json:"PartnerID"`
	Description    string             `bson:"description" json:"Description"`
	ReservedAmount decimal.Decimal    `bson:"reserved_amount" json:"ReservedAmount"`
	UpdatedAt      time.Time          `bson:"updated_at" json:"-"`
}

// NewProposal creates a Pending proposal. TotalValue is taken from the
// caller-supplied amount and price, not recomputed from a live feed.
func NewProposal(createdBy int64, proposalType, currency string, amount, price decimal.Decimal, description string) *Proposal {
	return &Proposal{
		CreatedAt:      time.Now().UTC(),
		CreatedBy:      createdBy,
		ProposalType:   proposalType,
		Currency:       currency,
		Amount:         amount,
		Price:          price,
		TotalValue:     amount.Mul(price),
		Status:         ProposalPending,
		Description:    description,
		ReservedAmount: decimal.Zero,
	}
}

// IsTerminal reports whether no further lifecycle transition is permitted.
func (p *Proposal) IsTerminal() bool {
	return p.Status == ProposalCompleted || p.Status == ProposalExpired
}

// ExpiresAt is the computed expiry deadline of a Pending proposal.
func (p *Proposal) ExpiresAt() time.Time {
	return p.CreatedAt.Add(ProposalTTL)
}

// MarshalJSON includes the computed expiry deadline, which is never
// persisted, in API output.
func (p Proposal) MarshalJSON() ([]byte, error) {
	type alias Proposal
	return json.Marshal(struct {
		alias
		ExpiresAt time.Time `json:"ExpiresAt"`
	}{alias(p), p.ExpiresAt()})
}

// Approve transitions Pending -> Confirmed and re-affirms the reservation.
func (p *Proposal) Approve(confirmedBy int64, now time.Time) error {
	if p.Status != ProposalPending {
		return fmt.Errorf("%w: proposal %d is %s, not %s", ErrInvalidState, p.ProposalID, p.Status, ProposalPending)
	}
	p.Status = ProposalConfirmed
	p.ConfirmedBy = &confirmedBy
	p.ConfirmedAt = &now
	p.ReservedAmount = p.Amount
	return nil
}

// Complete transitions Confirmed -> Completed and releases the reservation.
func (p *Proposal) Complete(now time.Time) error {
	if p.Status != ProposalConfirmed {
		return fmt.Errorf("%w: proposal %d is %s, not %s", ErrInvalidState, p.ProposalID, p.Status, ProposalConfirmed)
	}
	p.Status = ProposalCompleted
	p.CompletedAt = &now
	p.ReservedAmount = decimal.Zero
	return nil
}

// Expire transitions Pending -> Expired once the TTL has elapsed. The
// reserved amount is deliberately left as-is; see the expiry notes in
// DESIGN.md.
func (p *Proposal) Expire(now time.Time) bool {
	if p.Status != ProposalPending || !now.After(p.ExpiresAt()) {
		return false
	}
	p.Status = ProposalExpired
	return true
}

// Validate checks the fields a caller controls at creation time.
func (p *Proposal) Validate() error {
	if p.ProposalType == "" {
		return fmt.Errorf("%w: proposal type is required", ErrValidation)
	}
	if p.Currency == "" {
		return fmt.Errorf("%w: currency is required", ErrValidation)
	}
	if p.Amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if p.Price.LessThan(decimal.Zero) {
		return fmt.Errorf("%w: price cannot be negative", ErrValidation)
	}
	return nil
}

// Equilibrium transaction states.
const (
	TransactionInitiated         = "Initiated"
	TransactionPendingSettlement = "PendingSettlement"
	TransactionCompleted         = "Completed"
)

// EquilibriumTransaction is a settlement step executed against a Confirmed
// proposal. Immutable once inserted.
type EquilibriumTransaction struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	TransactionID int64              `bson:"transaction_id" json:"TransactionID"`
	ProposalID    int64              `bson:"proposal_id" json:"ProposalID"`
	InitiatedAt   time.Time          `bson:"initiated_at" json:"InitiatedAt"`
	TraderID      int64              `bson:"trader_id" json:"TraderID"`
	PartnerID     *int64             `bson:"partner_id,omitempty" json:"PartnerID"`
	Currency      string             `bson:"currency" json:"Currency"`
	Amount        decimal.Decimal    `bson:"amount" json:"Amount"`
	Price         decimal.Decimal    `bson:"price" json:"Price"`
	TotalValue    decimal.Decimal    `bson:"total_value" json:"TotalValue"`
	Status        string             `bson:"status" json:"Status"`
	Details       string             `bson:"details" json:"Details"`
}

// Receipt is an uploaded settlement document attached to a transaction.
// Immutable once inserted.
type Receipt struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	ReceiptID     int64              `bson:"receipt_id" json:"ReceiptID"`
	TransactionID int64              `bson:"transaction_id" json:"TransactionID"`
	FilePath      string             `bson:"file_path" json:"FilePath"`
	FileType      string             `bson:"file_type" json:"FileType"` // image, pdf, text
	Description   string             `bson:"description" json:"Description"`
	UploadedAt    time.Time          `bson:"uploaded_at" json:"UploadedAt"`
}

// Counterparty is an external party that equilibrium trades can settle
// against. Referenced by PartnerID fields.
type Counterparty struct {
	ID                  primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	CounterpartyID      int64              `bson:"counterparty_id" json:"CounterpartyID"`
	FirstName           string             `bson:"first_name" json:"FirstName"`
	LastName            string             `bson:"last_name" json:"LastName"`
	NationalID          string             `bson:"national_id,omitempty" json:"NationalID"`
	AccountNumber       string             `bson:"account_number,omitempty" json:"AccountNumber"`
	IBAN                string             `bson:"iban,omitempty" json:"IBAN"`
	CardNumber          string             `bson:"card_number,omitempty" json:"CardNumber"`
	MobileNumber        string             `bson:"mobile_number" json:"MobileNumber"`
	ReferralDescription string             `bson:"referral_description,omitempty" json:"ReferralDescription"`
	RegisteredBy        int64              `bson:"registered_by" json:"RegisteredBy"`
	CreatedAt           time.Time          `bson:"created_at" json:"CreatedAt"`
}

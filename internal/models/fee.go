package models

import (
	"time"

	"github.com/shopspring/decimal"

	appErrors "github.com/edusys-id/sekolah-api/pkg/errors"
)

// Fee statuses. Overdue is set by an external sweep, never derived here.
const (
	FeeStatusPending = "pending"
	FeeStatusPartial = "partial"
	FeeStatusPaid    = "paid"
	FeeStatusOverdue = "overdue"
)

// Fee is one academic-term financial obligation for one student.
//
// Arithmetic invariant at every observable point:
// paid_amount + due_amount + sum(discounts) == total_fee.
type Fee struct {
	ID           string          `db:"id" json:"id"`
	StudentID    string          `db:"student_id" json:"student_id"`
	ClassID      string          `db:"class_id" json:"class_id"`
	AcademicTerm string          `db:"academic_term" json:"academic_term"`
	TotalFee     decimal.Decimal `db:"total_fee" json:"total_fee"`
	PaidAmount   decimal.Decimal `db:"paid_amount" json:"paid_amount"`
	DueAmount    decimal.Decimal `db:"due_amount" json:"due_amount"`
	Status       string          `db:"status" json:"status"`
	DueDate      *time.Time      `db:"due_date" json:"due_date,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// NewFee returns a fresh pending fee with the full amount outstanding.
func NewFee(studentID, classID, term string, total decimal.Decimal, dueDate *time.Time) *Fee {
	return &Fee{
		StudentID:    studentID,
		ClassID:      classID,
		AcademicTerm: term,
		TotalFee:     total,
		PaidAmount:   decimal.Zero,
		DueAmount:    total,
		Status:       FeeStatusPending,
		DueDate:      dueDate,
	}
}

// ApplyPayment records a payment against the fee. The amount must be
// positive and must not exceed the current due amount; on violation the fee
// is left untouched.
func (f *Fee) ApplyPayment(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return appErrors.ErrNonPositiveAmount
	}
	if amount.GreaterThan(f.DueAmount) {
		return appErrors.ErrPaymentExceedsDue
	}
	f.PaidAmount = f.PaidAmount.Add(amount)
	f.DueAmount = f.DueAmount.Sub(amount)
	f.refreshStatus()
	return nil
}

// ApplyDiscount reduces the due amount without touching total or paid. The
// bound is the original total fee, not the current due amount, so a discount
// granted after partial payment is still honoured; a discount granted after
// full payment drives the due amount negative (a credit balance) and the
// status stays paid.
func (f *Fee) ApplyDiscount(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return appErrors.ErrNonPositiveAmount
	}
	if amount.GreaterThan(f.TotalFee) {
		return appErrors.ErrDiscountExceedsTotal
	}
	f.DueAmount = f.DueAmount.Sub(amount)
	f.refreshStatus()
	return nil
}

// MarkOverdue flags the fee when the due date has passed and a balance
// remains. Returns true when the status changed.
func (f *Fee) MarkOverdue(asOf time.Time) bool {
	if f.Status == FeeStatusPaid || f.Status == FeeStatusOverdue {
		return false
	}
	if f.DueDate == nil || !f.DueDate.Before(asOf) {
		return false
	}
	if f.DueAmount.Sign() <= 0 {
		return false
	}
	f.Status = FeeStatusOverdue
	return true
}

// refreshStatus resolves paid and partial; anything else keeps the current
// status so an external overdue marker survives a discount-only mutation.
func (f *Fee) refreshStatus() {
	switch {
	case f.DueAmount.Sign() <= 0:
		f.Status = FeeStatusPaid
	case f.PaidAmount.Sign() > 0:
		f.Status = FeeStatusPartial
	}
}

// FeePayment is an immutable, append-only ledger entry against a fee.
type FeePayment struct {
	ID             string          `db:"id" json:"id"`
	FeeID          string          `db:"fee_id" json:"fee_id"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	Method         string          `db:"method" json:"method"`
	TransactionRef string          `db:"transaction_ref" json:"transaction_ref,omitempty"`
	Remarks        string          `db:"remarks" json:"remarks,omitempty"`
	ReceiptNumber  string          `db:"receipt_number" json:"receipt_number"`
	PaidAt         time.Time       `db:"paid_at" json:"paid_at"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// FeeDiscount is an immutable, append-only reduction of a fee's due amount.
type FeeDiscount struct {
	ID        string          `db:"id" json:"id"`
	FeeID     string          `db:"fee_id" json:"fee_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Reason    string          `db:"reason" json:"reason"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// FeeFilter narrows fee listings.
type FeeFilter struct {
	StudentID    string
	ClassID      string
	Status       string
	AcademicTerm string
	Page         int
	PageSize     int
}

// FeeDetail joins a fee with student context for listings.
type FeeDetail struct {
	Fee
	StudentName string `db:"student_name" json:"student_name"`
	StudentNIS  string `db:"student_nis" json:"student_nis"`
}

// FeeSummary aggregates ledger state across a set of fees.
type FeeSummary struct {
	TotalBilled      decimal.Decimal `db:"total_billed" json:"total_billed"`
	TotalCollected   decimal.Decimal `db:"total_collected" json:"total_collected"`
	TotalOutstanding decimal.Decimal `db:"total_outstanding" json:"total_outstanding"`
	TotalDiscount    decimal.Decimal `db:"total_discount" json:"total_discount"`
	PendingCount     int             `db:"pending_count" json:"pending_count"`
	PartialCount     int             `db:"partial_count" json:"partial_count"`
	PaidCount        int             `db:"paid_count" json:"paid_count"`
	OverdueCount     int             `db:"overdue_count" json:"overdue_count"`
	GeneratedAt      time.Time       `json:"generated_at"`
}

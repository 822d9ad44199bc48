package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edusys-id/sekolah-api/internal/models"
	appErrors "github.com/edusys-id/sekolah-api/pkg/errors"
)

func newFeeMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func feeRow(total, paid, due, status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "student_id", "class_id", "academic_term", "total_fee", "paid_amount", "due_amount", "status", "due_date", "created_at", "updated_at"}).
		AddRow("fee-1", "s1", "class-1", "2025/2026-1", total, paid, due, status, nil, time.Now(), time.Now())
}

const lockFeeQuery = "SELECT id, student_id, class_id, academic_term, total_fee, paid_amount, due_amount, status, due_date, created_at, updated_at FROM fees WHERE id = $1 FOR UPDATE"

func TestFeeRepositoryApplyPayment(t *testing.T) {
	db, mock, cleanup := newFeeMock(t)
	defer cleanup()
	repo := NewFeeRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockFeeQuery)).
		WithArgs("fee-1").
		WillReturnRows(feeRow("1000", "0", "1000", models.FeeStatusPending))
	mock.ExpectExec("UPDATE fees SET paid_amount").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO fee_payments").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	payment := &models.FeePayment{Amount: decimal.RequireFromString("400"), Method: "cash", ReceiptNumber: "RCP-20250901-ABCD1234"}
	fee, err := repo.ApplyPayment(context.Background(), "fee-1", payment, func(fee *models.Fee) error {
		return fee.ApplyPayment(payment.Amount)
	})
	require.NoError(t, err)
	assert.Equal(t, models.FeeStatusPartial, fee.Status)
	assert.True(t, fee.DueAmount.Equal(decimal.RequireFromString("600")))
	assert.Equal(t, "fee-1", payment.FeeID)
	assert.NotEmpty(t, payment.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeeRepositoryApplyPaymentRollsBackOnPrecondition(t *testing.T) {
	db, mock, cleanup := newFeeMock(t)
	defer cleanup()
	repo := NewFeeRepository(db)

	// Precondition re-checked under the row lock: the fee loaded inside the
	// transaction only has 100 due, so the 400 payment must abort with no
	// update and no payment insert.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockFeeQuery)).
		WithArgs("fee-1").
		WillReturnRows(feeRow("1000", "900", "100", models.FeeStatusPartial))
	mock.ExpectRollback()

	payment := &models.FeePayment{Amount: decimal.RequireFromString("400"), Method: "cash"}
	_, err := repo.ApplyPayment(context.Background(), "fee-1", payment, func(fee *models.Fee) error {
		return fee.ApplyPayment(payment.Amount)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrPaymentExceedsDue)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeeRepositoryApplyDiscount(t *testing.T) {
	db, mock, cleanup := newFeeMock(t)
	defer cleanup()
	repo := NewFeeRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockFeeQuery)).
		WithArgs("fee-1").
		WillReturnRows(feeRow("1000", "0", "1000", models.FeeStatusPending))
	mock.ExpectExec("UPDATE fees SET paid_amount").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO fee_discounts").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	discount := &models.FeeDiscount{Amount: decimal.RequireFromString("250"), Reason: "scholarship"}
	fee, err := repo.ApplyDiscount(context.Background(), "fee-1", discount, func(fee *models.Fee) error {
		return fee.ApplyDiscount(discount.Amount)
	})
	require.NoError(t, err)
	assert.True(t, fee.DueAmount.Equal(decimal.RequireFromString("750")))
	assert.True(t, fee.TotalFee.Equal(decimal.RequireFromString("1000")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeeRepositoryApplyPaymentCommitFailure(t *testing.T) {
	db, mock, cleanup := newFeeMock(t)
	defer cleanup()
	repo := NewFeeRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockFeeQuery)).
		WithArgs("fee-1").
		WillReturnRows(feeRow("1000", "0", "1000", models.FeeStatusPending))
	mock.ExpectExec("UPDATE fees SET paid_amount").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO fee_payments").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("deadlock detected"))

	payment := &models.FeePayment{Amount: decimal.RequireFromString("400"), Method: "cash"}
	_, err := repo.ApplyPayment(context.Background(), "fee-1", payment, func(fee *models.Fee) error {
		return fee.ApplyPayment(payment.Amount)
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeeRepositorySummary(t *testing.T) {
	db, mock, cleanup := newFeeMock(t)
	defer cleanup()
	repo := NewFeeRepository(db)

	mock.ExpectQuery("SELECT\\s+COALESCE\\(SUM\\(f.total_fee\\), 0\\)").
		WithArgs("class-1").
		WillReturnRows(sqlmock.NewRows([]string{"total_billed", "total_collected", "total_outstanding", "pending_count", "partial_count", "paid_count", "overdue_count"}).
			AddRow("3000", "1200", "1800", 1, 1, 1, 0))
	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(d.amount\\), 0\\)").
		WithArgs("class-1").
		WillReturnRows(sqlmock.NewRows([]string{"total_discount"}).AddRow("100"))

	summary, err := repo.Summary(context.Background(), models.FeeFilter{ClassID: "class-1"})
	require.NoError(t, err)
	assert.True(t, summary.TotalCollected.Equal(decimal.RequireFromString("1200")))
	assert.True(t, summary.TotalDiscount.Equal(decimal.RequireFromString("100")))
	assert.Equal(t, 1, summary.PaidCount)
	assert.False(t, summary.GeneratedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeeRepositoryMarkOverdue(t *testing.T) {
	db, mock, cleanup := newFeeMock(t)
	defer cleanup()
	repo := NewFeeRepository(db)

	mock.ExpectExec("UPDATE fees SET status = 'overdue'").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	affected, err := repo.MarkOverdue(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(3), affected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

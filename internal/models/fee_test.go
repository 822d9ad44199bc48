package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/edusys-id/sekolah-api/pkg/errors"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestFeePaymentStatusTransitions(t *testing.T) {
	fee := NewFee("student-1", "class-1", "2025/2026-1", dec("1000"), nil)
	require.Equal(t, FeeStatusPending, fee.Status)
	require.True(t, fee.DueAmount.Equal(dec("1000")))

	require.NoError(t, fee.ApplyPayment(dec("400")))
	assert.True(t, fee.PaidAmount.Equal(dec("400")))
	assert.True(t, fee.DueAmount.Equal(dec("600")))
	assert.Equal(t, FeeStatusPartial, fee.Status)

	require.NoError(t, fee.ApplyPayment(dec("600")))
	assert.True(t, fee.PaidAmount.Equal(dec("1000")))
	assert.True(t, fee.DueAmount.IsZero())
	assert.Equal(t, FeeStatusPaid, fee.Status)
}

func TestFeePaymentRejectsOverpayment(t *testing.T) {
	fee := NewFee("student-1", "class-1", "2025/2026-1", dec("500"), nil)

	err := fee.ApplyPayment(dec("501"))
	require.ErrorIs(t, err, appErrors.ErrPaymentExceedsDue)

	// No partial effect.
	assert.True(t, fee.PaidAmount.IsZero())
	assert.True(t, fee.DueAmount.Equal(dec("500")))
	assert.Equal(t, FeeStatusPending, fee.Status)
}

func TestFeePaymentRejectsNonPositiveAmount(t *testing.T) {
	fee := NewFee("student-1", "class-1", "2025/2026-1", dec("500"), nil)

	require.ErrorIs(t, fee.ApplyPayment(decimal.Zero), appErrors.ErrNonPositiveAmount)
	require.ErrorIs(t, fee.ApplyPayment(dec("-10")), appErrors.ErrNonPositiveAmount)
	assert.True(t, fee.DueAmount.Equal(dec("500")))
}

func TestFeeDiscountReducesDueOnly(t *testing.T) {
	fee := NewFee("student-1", "class-1", "2025/2026-1", dec("1000"), nil)

	require.NoError(t, fee.ApplyDiscount(dec("200")))
	assert.True(t, fee.TotalFee.Equal(dec("1000")))
	assert.True(t, fee.PaidAmount.IsZero())
	assert.True(t, fee.DueAmount.Equal(dec("800")))
	assert.Equal(t, FeeStatusPending, fee.Status)

	require.NoError(t, fee.ApplyPayment(dec("800")))
	assert.True(t, fee.DueAmount.IsZero())
	assert.Equal(t, FeeStatusPaid, fee.Status)
}

func TestFeeDiscountValidatedAgainstTotalNotDue(t *testing.T) {
	fee := NewFee("student-1", "class-1", "2025/2026-1", dec("1000"), nil)
	require.NoError(t, fee.ApplyPayment(dec("900")))

	// Due is 100 but the bound is the original total.
	require.NoError(t, fee.ApplyDiscount(dec("150")))
	assert.True(t, fee.DueAmount.Equal(dec("-50")))
	assert.Equal(t, FeeStatusPaid, fee.Status)

	err := fee.ApplyDiscount(dec("1001"))
	require.ErrorIs(t, err, appErrors.ErrDiscountExceedsTotal)
	assert.True(t, fee.DueAmount.Equal(dec("-50")))
}

func TestFeeDiscountAfterFullPaymentKeepsPaidStatus(t *testing.T) {
	fee := NewFee("student-1", "class-1", "2025/2026-1", dec("1000"), nil)
	require.NoError(t, fee.ApplyPayment(dec("1000")))
	require.Equal(t, FeeStatusPaid, fee.Status)

	require.NoError(t, fee.ApplyDiscount(dec("100")))
	assert.True(t, fee.DueAmount.Equal(dec("-100")))
	assert.Equal(t, FeeStatusPaid, fee.Status)
}

func TestFeeConservationAcrossOperations(t *testing.T) {
	fee := NewFee("student-1", "class-1", "2025/2026-1", dec("2500"), nil)
	totalDiscount := decimal.Zero

	check := func() {
		t.Helper()
		sum := fee.PaidAmount.Add(fee.DueAmount).Add(totalDiscount)
		assert.Truef(t, sum.Equal(fee.TotalFee), "paid %s + due %s + discounts %s != total %s",
			fee.PaidAmount, fee.DueAmount, totalDiscount, fee.TotalFee)
	}

	steps := []struct {
		payment  string
		discount string
	}{
		{payment: "300.50"},
		{discount: "99.50"},
		{payment: "1000"},
		{payment: "0.01"},
		{discount: "250"},
		{payment: "849.99"},
	}
	for _, step := range steps {
		if step.payment != "" {
			require.NoError(t, fee.ApplyPayment(dec(step.payment)))
		}
		if step.discount != "" {
			require.NoError(t, fee.ApplyDiscount(dec(step.discount)))
			totalDiscount = totalDiscount.Add(dec(step.discount))
		}
		check()
	}

	assert.True(t, fee.DueAmount.IsZero())
	assert.Equal(t, FeeStatusPaid, fee.Status)
}

func TestFeeMarkOverdue(t *testing.T) {
	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	tomorrow := time.Now().UTC().Add(24 * time.Hour)

	fee := NewFee("student-1", "class-1", "2025/2026-1", dec("1000"), &yesterday)
	require.True(t, fee.MarkOverdue(time.Now().UTC()))
	assert.Equal(t, FeeStatusOverdue, fee.Status)

	// Overdue is sticky until the ledger says otherwise.
	require.False(t, fee.MarkOverdue(time.Now().UTC()))

	// A payment moves an overdue fee forward.
	require.NoError(t, fee.ApplyPayment(dec("400")))
	assert.Equal(t, FeeStatusPartial, fee.Status)

	notDue := NewFee("student-2", "class-1", "2025/2026-1", dec("1000"), &tomorrow)
	require.False(t, notDue.MarkOverdue(time.Now().UTC()))
	assert.Equal(t, FeeStatusPending, notDue.Status)

	settled := NewFee("student-3", "class-1", "2025/2026-1", dec("1000"), &yesterday)
	require.NoError(t, settled.ApplyPayment(dec("1000")))
	require.False(t, settled.MarkOverdue(time.Now().UTC()))
	assert.Equal(t, FeeStatusPaid, settled.Status)
}

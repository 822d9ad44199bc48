package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edusys-id/sekolah-api/internal/models"
	"github.com/edusys-id/sekolah-api/internal/service"
)

type feeRepoStub struct {
	fee      *models.Fee
	payments []models.FeePayment
}

func (s *feeRepoStub) List(ctx context.Context, filter models.FeeFilter) ([]models.FeeDetail, int, error) {
	if s.fee == nil {
		return nil, 0, nil
	}
	return []models.FeeDetail{{Fee: *s.fee}}, 1, nil
}

func (s *feeRepoStub) FindByID(ctx context.Context, id string) (*models.Fee, error) {
	if s.fee == nil || s.fee.ID != id {
		return nil, sql.ErrNoRows
	}
	clone := *s.fee
	return &clone, nil
}

func (s *feeRepoStub) ListBilledStudentIDs(ctx context.Context, classID, term string) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

func (s *feeRepoStub) CreateBatch(ctx context.Context, fees []*models.Fee) error {
	return nil
}

func (s *feeRepoStub) ApplyPayment(ctx context.Context, feeID string, payment *models.FeePayment, apply func(*models.Fee) error) (*models.Fee, error) {
	if s.fee == nil || s.fee.ID != feeID {
		return nil, sql.ErrNoRows
	}
	clone := *s.fee
	if err := apply(&clone); err != nil {
		return nil, err
	}
	*s.fee = clone
	payment.ID = "payment-1"
	payment.FeeID = feeID
	s.payments = append(s.payments, *payment)
	result := clone
	return &result, nil
}

func (s *feeRepoStub) ApplyDiscount(ctx context.Context, feeID string, discount *models.FeeDiscount, apply func(*models.Fee) error) (*models.Fee, error) {
	if s.fee == nil || s.fee.ID != feeID {
		return nil, sql.ErrNoRows
	}
	clone := *s.fee
	if err := apply(&clone); err != nil {
		return nil, err
	}
	*s.fee = clone
	result := clone
	return &result, nil
}

func (s *feeRepoStub) ListPayments(ctx context.Context, feeID string) ([]models.FeePayment, error) {
	return s.payments, nil
}

func (s *feeRepoStub) FindPayment(ctx context.Context, feeID, paymentID string) (*models.FeePayment, error) {
	return nil, sql.ErrNoRows
}

func (s *feeRepoStub) ListDiscounts(ctx context.Context, feeID string) ([]models.FeeDiscount, error) {
	return nil, nil
}

func (s *feeRepoStub) Summary(ctx context.Context, filter models.FeeFilter) (*models.FeeSummary, error) {
	return &models.FeeSummary{GeneratedAt: time.Now().UTC()}, nil
}

func (s *feeRepoStub) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	return 0, nil
}

type studentRepoStub struct{}

func (s *studentRepoStub) ListActiveByClass(ctx context.Context, classID string) ([]models.Student, error) {
	return nil, nil
}

func (s *studentRepoStub) FindByID(ctx context.Context, id string) (*models.Student, error) {
	return nil, sql.ErrNoRows
}

type classRepoStub struct{}

func (s *classRepoStub) ExistsByID(ctx context.Context, id string) (bool, error) {
	return true, nil
}

func newFeeHandlerFixture(stub *feeRepoStub) *FeeHandler {
	svc := service.NewFeeService(stub, &studentRepoStub{}, &classRepoStub{}, nil, nil, nil, zap.NewNop(), service.FeeServiceConfig{})
	return NewFeeHandler(svc)
}

func performPayment(t *testing.T, handler *FeeHandler, feeID string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req, _ := http.NewRequest(http.MethodPost, "/fees/"+feeID+"/payments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: feeID}}
	handler.RecordPayment(c)
	return w
}

func TestFeeHandlerRecordPayment(t *testing.T) {
	stub := &feeRepoStub{fee: models.NewFee("s1", "class-1", "2025/2026-1", decimal.RequireFromString("1000"), nil)}
	stub.fee.ID = "fee-1"
	handler := newFeeHandlerFixture(stub)

	w := performPayment(t, handler, "fee-1", service.RecordPaymentRequest{
		Amount: decimal.RequireFromString("400"),
		Method: "cash",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.FeeStatusPartial, stub.fee.Status)
	assert.Len(t, stub.payments, 1)
}

func TestFeeHandlerRecordPaymentExceedsDue(t *testing.T) {
	stub := &feeRepoStub{fee: models.NewFee("s1", "class-1", "2025/2026-1", decimal.RequireFromString("500"), nil)}
	stub.fee.ID = "fee-1"
	handler := newFeeHandlerFixture(stub)

	w := performPayment(t, handler, "fee-1", service.RecordPaymentRequest{
		Amount: decimal.RequireFromString("501"),
		Method: "cash",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, stub.fee.PaidAmount.IsZero())
	assert.Empty(t, stub.payments)
}

func TestFeeHandlerRecordPaymentUnknownFee(t *testing.T) {
	handler := newFeeHandlerFixture(&feeRepoStub{})

	w := performPayment(t, handler, "missing", service.RecordPaymentRequest{
		Amount: decimal.RequireFromString("100"),
		Method: "cash",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFeeHandlerRecordPaymentInvalidBody(t *testing.T) {
	handler := newFeeHandlerFixture(&feeRepoStub{})
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/fees/fee-1/payments", bytes.NewReader([]byte(`invalid`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "fee-1"}}

	handler.RecordPayment(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFeeHandlerGetNotFound(t *testing.T) {
	handler := newFeeHandlerFixture(&feeRepoStub{})
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/fees/missing", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "missing"}}

	handler.Get(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/edusys-id/sekolah-api/internal/models"
	appErrors "github.com/edusys-id/sekolah-api/pkg/errors"
	"github.com/edusys-id/sekolah-api/pkg/export"
)

type feeRepository interface {
	List(ctx context.Context, filter models.FeeFilter) ([]models.FeeDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Fee, error)
	ListBilledStudentIDs(ctx context.Context, classID, term string) (map[string]struct{}, error)
	CreateBatch(ctx context.Context, fees []*models.Fee) error
	ApplyPayment(ctx context.Context, feeID string, payment *models.FeePayment, apply func(*models.Fee) error) (*models.Fee, error)
	ApplyDiscount(ctx context.Context, feeID string, discount *models.FeeDiscount, apply func(*models.Fee) error) (*models.Fee, error)
	ListPayments(ctx context.Context, feeID string) ([]models.FeePayment, error)
	FindPayment(ctx context.Context, feeID, paymentID string) (*models.FeePayment, error)
	ListDiscounts(ctx context.Context, feeID string) ([]models.FeeDiscount, error)
	Summary(ctx context.Context, filter models.FeeFilter) (*models.FeeSummary, error)
	MarkOverdue(ctx context.Context, asOf time.Time) (int64, error)
}

type feeStudentRepository interface {
	ListActiveByClass(ctx context.Context, classID string) ([]models.Student, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type feeClassRepository interface {
	ExistsByID(ctx context.Context, id string) (bool, error)
}

// InitializeFeesRequest creates one pending fee per active student of a class.
type InitializeFeesRequest struct {
	AcademicTerm string          `json:"academic_term" validate:"required"`
	TotalFee     decimal.Decimal `json:"total_fee"`
	DueDate      *time.Time      `json:"due_date"`
}

// RecordPaymentRequest holds payload for recording a payment.
type RecordPaymentRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Method         string          `json:"method" validate:"required"`
	TransactionRef string          `json:"transaction_ref"`
	Remarks        string          `json:"remarks"`
	PaidAt         *time.Time      `json:"paid_at"`
}

// ApplyDiscountRequest holds payload for applying a discount.
type ApplyDiscountRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" validate:"required"`
}

// PaymentResult pairs the updated fee with the appended ledger entry.
type PaymentResult struct {
	Fee     *models.Fee        `json:"fee"`
	Payment *models.FeePayment `json:"payment"`
}

// FeeLedgerDetail is a fee with its full ledger history.
type FeeLedgerDetail struct {
	Fee       *models.Fee          `json:"fee"`
	Payments  []models.FeePayment  `json:"payments"`
	Discounts []models.FeeDiscount `json:"discounts"`
}

// FeeServiceConfig tunes receipt numbering and summary caching.
type FeeServiceConfig struct {
	ReceiptPrefix   string
	SummaryCacheTTL time.Duration
}

// FeeService maintains the arithmetic and state-machine invariants of fee
// records as payments and discounts are applied.
type FeeService struct {
	repo      feeRepository
	students  feeStudentRepository
	classes   feeClassRepository
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       FeeServiceConfig
}

// NewFeeService constructs the fee service.
func NewFeeService(repo feeRepository, students feeStudentRepository, classes feeClassRepository, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg FeeServiceConfig) *FeeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReceiptPrefix == "" {
		cfg.ReceiptPrefix = "RCP"
	}
	if cfg.SummaryCacheTTL <= 0 {
		cfg.SummaryCacheTTL = 5 * time.Minute
	}
	return &FeeService{repo: repo, students: students, classes: classes, cache: cache, metrics: metrics, validator: validate, logger: logger, cfg: cfg}
}

// InitializeForClass creates a pending fee for every active student of the
// class not yet billed for the term.
func (s *FeeService) InitializeForClass(ctx context.Context, classID string, req InitializeFeesRequest) ([]*models.Fee, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid fee initialization payload")
	}
	if req.TotalFee.Sign() <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "total fee must be positive")
	}

	exists, err := s.classes.ExistsByID(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check class")
	}
	if !exists {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
	}

	students, err := s.students.ListActiveByClass(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class roster")
	}
	billed, err := s.repo.ListBilledStudentIDs(ctx, classID, req.AcademicTerm)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load billed students")
	}

	fees := make([]*models.Fee, 0, len(students))
	for _, student := range students {
		if _, ok := billed[student.ID]; ok {
			continue
		}
		fees = append(fees, models.NewFee(student.ID, classID, req.AcademicTerm, req.TotalFee, req.DueDate))
	}
	if err := s.repo.CreateBatch(ctx, fees); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to initialize fees")
	}

	s.invalidateSummaries(ctx)
	s.logger.Info("fees initialized", zap.String("class_id", classID), zap.String("term", req.AcademicTerm), zap.Int("created", len(fees)))
	return fees, nil
}

// List returns fees with pagination metadata.
func (s *FeeService) List(ctx context.Context, filter models.FeeFilter) ([]models.FeeDetail, *models.Pagination, error) {
	fees, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list fees")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return fees, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a fee together with its ledger entries.
func (s *FeeService) Get(ctx context.Context, feeID string) (*FeeLedgerDetail, error) {
	fee, err := s.repo.FindByID(ctx, feeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "fee not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load fee")
	}
	payments, err := s.repo.ListPayments(ctx, feeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payments")
	}
	discounts, err := s.repo.ListDiscounts(ctx, feeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load discounts")
	}
	return &FeeLedgerDetail{Fee: fee, Payments: payments, Discounts: discounts}, nil
}

// RecordPayment appends a payment entry and updates the fee atomically. The
// precondition (amount within the due balance) is re-checked while the fee
// row is locked, so concurrent payments cannot oversubscribe the balance.
func (s *FeeService) RecordPayment(ctx context.Context, feeID string, req RecordPaymentRequest) (*PaymentResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	if req.Amount.Sign() <= 0 {
		return nil, appErrors.ErrNonPositiveAmount
	}

	payment := &models.FeePayment{
		Amount:         req.Amount,
		Method:         req.Method,
		TransactionRef: req.TransactionRef,
		Remarks:        req.Remarks,
		ReceiptNumber:  s.receiptNumber(),
	}
	if req.PaidAt != nil {
		payment.PaidAt = req.PaidAt.UTC()
	}

	fee, err := s.repo.ApplyPayment(ctx, feeID, payment, func(fee *models.Fee) error {
		return fee.ApplyPayment(req.Amount)
	})
	if err != nil {
		return nil, s.mapLedgerError(err, "failed to record payment")
	}

	s.metrics.RecordPayment()
	s.invalidateSummaries(ctx)
	s.logger.Info("payment recorded",
		zap.String("fee_id", fee.ID),
		zap.String("receipt", payment.ReceiptNumber),
		zap.String("amount", req.Amount.String()),
		zap.String("status", fee.Status))
	return &PaymentResult{Fee: fee, Payment: payment}, nil
}

// ApplyDiscount appends a discount entry and updates the fee atomically.
func (s *FeeService) ApplyDiscount(ctx context.Context, feeID string, req ApplyDiscountRequest) (*models.Fee, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid discount payload")
	}
	if req.Amount.Sign() <= 0 {
		return nil, appErrors.ErrNonPositiveAmount
	}

	discount := &models.FeeDiscount{Amount: req.Amount, Reason: req.Reason}
	fee, err := s.repo.ApplyDiscount(ctx, feeID, discount, func(fee *models.Fee) error {
		return fee.ApplyDiscount(req.Amount)
	})
	if err != nil {
		return nil, s.mapLedgerError(err, "failed to apply discount")
	}

	s.metrics.RecordDiscount()
	s.invalidateSummaries(ctx)
	s.logger.Info("discount applied",
		zap.String("fee_id", fee.ID),
		zap.String("amount", req.Amount.String()),
		zap.String("reason", req.Reason))
	return fee, nil
}

// ListPayments returns the payment history of a fee.
func (s *FeeService) ListPayments(ctx context.Context, feeID string) ([]models.FeePayment, error) {
	if _, err := s.repo.FindByID(ctx, feeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "fee not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load fee")
	}
	payments, err := s.repo.ListPayments(ctx, feeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	return payments, nil
}

// Summary aggregates ledger totals for the fees matching the filter,
// serving from cache when possible.
func (s *FeeService) Summary(ctx context.Context, filter models.FeeFilter) (*models.FeeSummary, error) {
	key := summaryCacheKey(filter)
	var cached models.FeeSummary
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	summary, err := s.repo.Summary(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute fee summary")
	}
	if err := s.cache.Set(ctx, key, summary, s.cfg.SummaryCacheTTL); err != nil {
		s.logger.Warn("failed to cache fee summary", zap.Error(err))
	}
	return summary, nil
}

// SweepOverdue flags fees past their due date with an outstanding balance.
func (s *FeeService) SweepOverdue(ctx context.Context) (int64, error) {
	affected, err := s.repo.MarkOverdue(ctx, time.Now().UTC())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sweep overdue fees")
	}
	if affected > 0 {
		s.invalidateSummaries(ctx)
	}
	s.logger.Info("overdue sweep completed", zap.Int64("flagged", affected))
	return affected, nil
}

// ExportCollections renders the fees matching the filter as CSV.
func (s *FeeService) ExportCollections(ctx context.Context, filter models.FeeFilter) ([]byte, error) {
	headers := []string{"NIS", "Student", "Term", "Total", "Paid", "Due", "Status"}
	rows := make([]map[string]string, 0)

	filter.Page = 1
	filter.PageSize = 100
	for {
		fees, _, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to export fees")
		}
		for _, fee := range fees {
			rows = append(rows, map[string]string{
				"NIS":     fee.StudentNIS,
				"Student": fee.StudentName,
				"Term":    fee.AcademicTerm,
				"Total":   fee.TotalFee.StringFixed(2),
				"Paid":    fee.PaidAmount.StringFixed(2),
				"Due":     fee.DueAmount.StringFixed(2),
				"Status":  fee.Status,
			})
		}
		if len(fees) < filter.PageSize {
			break
		}
		filter.Page++
	}

	data, err := export.NewCSVExporter().Render(export.Dataset{Headers: headers, Rows: rows})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return data, nil
}

// RenderReceipt produces a PDF receipt for one payment.
func (s *FeeService) RenderReceipt(ctx context.Context, feeID, paymentID string) ([]byte, error) {
	fee, err := s.repo.FindByID(ctx, feeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "fee not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load fee")
	}
	payment, err := s.repo.FindPayment(ctx, feeID, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	student, err := s.students.FindByID(ctx, fee.StudentID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	studentName := fee.StudentID
	if student != nil {
		studentName = student.FullName
	}
	dataset := export.Dataset{
		Headers: []string{"Field", "Value"},
		Rows: []map[string]string{
			{"Field": "Receipt", "Value": payment.ReceiptNumber},
			{"Field": "Student", "Value": studentName},
			{"Field": "Term", "Value": fee.AcademicTerm},
			{"Field": "Amount", "Value": payment.Amount.StringFixed(2)},
			{"Field": "Method", "Value": payment.Method},
			{"Field": "Paid At", "Value": payment.PaidAt.Format(time.RFC3339)},
			{"Field": "Remaining Due", "Value": fee.DueAmount.StringFixed(2)},
		},
	}
	data, err := export.NewPDFExporter().Render(dataset, "Payment Receipt")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render receipt")
	}
	return data, nil
}

// receiptNumber builds a unique receipt identifier without a read-modify-write
// counter.
func (s *FeeService) receiptNumber() string {
	return fmt.Sprintf("%s-%s-%s", s.cfg.ReceiptPrefix, time.Now().UTC().Format("20060102"), strings.ToUpper(uuid.NewString()[:8]))
}

func (s *FeeService) mapLedgerError(err error, fallback string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "fee not found")
	}
	var typed *appErrors.Error
	if errors.As(err, &typed) {
		return typed
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fallback)
}

func (s *FeeService) invalidateSummaries(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, "fees:summary:*"); err != nil {
		s.logger.Warn("failed to invalidate fee summaries", zap.Error(err))
	}
}

func summaryCacheKey(filter models.FeeFilter) string {
	return fmt.Sprintf("fees:summary:%s:%s:%s:%s", filter.ClassID, filter.StudentID, filter.Status, filter.AcademicTerm)
}

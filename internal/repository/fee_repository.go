package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edusys-id/sekolah-api/internal/models"
)

// FeeRepository handles fee, payment and discount persistence. Payments and
// discounts are append-only; the owning fee row is the unit of mutual
// exclusion and is locked for the duration of every ledger mutation.
type FeeRepository struct {
	db *sqlx.DB
}

// NewFeeRepository constructs a FeeRepository.
func NewFeeRepository(db *sqlx.DB) *FeeRepository {
	return &FeeRepository{db: db}
}

const feeColumns = "id, student_id, class_id, academic_term, total_fee, paid_amount, due_amount, status, due_date, created_at, updated_at"

func feeFilterConditions(filter models.FeeFilter, args *[]interface{}) []string {
	conditions := []string{"1=1"}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("f.student_id = $%d", len(*args)+1))
		*args = append(*args, filter.StudentID)
	}
	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("f.class_id = $%d", len(*args)+1))
		*args = append(*args, filter.ClassID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("f.status = $%d", len(*args)+1))
		*args = append(*args, filter.Status)
	}
	if filter.AcademicTerm != "" {
		conditions = append(conditions, fmt.Sprintf("f.academic_term = $%d", len(*args)+1))
		*args = append(*args, filter.AcademicTerm)
	}
	return conditions
}

// List returns fees joined with student context.
func (r *FeeRepository) List(ctx context.Context, filter models.FeeFilter) ([]models.FeeDetail, int, error) {
	var args []interface{}
	conditions := feeFilterConditions(filter, &args)
	base := fmt.Sprintf("FROM fees f JOIN students s ON s.id = f.student_id WHERE %s", strings.Join(conditions, " AND "))

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT f.id, f.student_id, f.class_id, f.academic_term, f.total_fee, f.paid_amount, f.due_amount, f.status, f.due_date, f.created_at, f.updated_at,
        s.full_name AS student_name, s.nis AS student_nis
        %s ORDER BY s.full_name ASC LIMIT %d OFFSET %d`, base, size, offset)

	var fees []models.FeeDetail
	if err := r.db.SelectContext(ctx, &fees, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list fees: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count fees: %w", err)
	}
	return fees, total, nil
}

// FindByID fetches a fee by ID.
func (r *FeeRepository) FindByID(ctx context.Context, id string) (*models.Fee, error) {
	query := fmt.Sprintf("SELECT %s FROM fees WHERE id = $1", feeColumns)
	var fee models.Fee
	if err := r.db.GetContext(ctx, &fee, query, id); err != nil {
		return nil, err
	}
	return &fee, nil
}

// ListBilledStudentIDs returns the student IDs already holding a fee for the
// class and term.
func (r *FeeRepository) ListBilledStudentIDs(ctx context.Context, classID, term string) (map[string]struct{}, error) {
	const query = `SELECT student_id FROM fees WHERE class_id = $1 AND academic_term = $2`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, classID, term); err != nil {
		return nil, fmt.Errorf("list billed students: %w", err)
	}
	billed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		billed[id] = struct{}{}
	}
	return billed, nil
}

// CreateBatch inserts fee records in a single transaction.
func (r *FeeRepository) CreateBatch(ctx context.Context, fees []*models.Fee) error {
	if len(fees) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fee batch: %w", err)
	}
	now := time.Now().UTC()
	for _, fee := range fees {
		if fee.ID == "" {
			fee.ID = uuid.NewString()
		}
		if fee.CreatedAt.IsZero() {
			fee.CreatedAt = now
		}
		fee.UpdatedAt = now
		const query = `INSERT INTO fees (id, student_id, class_id, academic_term, total_fee, paid_amount, due_amount, status, due_date, created_at, updated_at)
            VALUES (:id, :student_id, :class_id, :academic_term, :total_fee, :paid_amount, :due_amount, :status, :due_date, :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, query, fee); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("insert fee: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit fee batch: %w", err)
	}
	return nil
}

// ApplyPayment locks the fee row, runs the ledger mutation and persists the
// updated fee together with the payment entry. Either both rows land or
// neither does.
func (r *FeeRepository) ApplyPayment(ctx context.Context, feeID string, payment *models.FeePayment, apply func(*models.Fee) error) (*models.Fee, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin payment: %w", err)
	}

	fee, err := lockFee(ctx, tx, feeID)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}

	if err := apply(fee); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}

	if err := updateFeeTx(ctx, tx, fee); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}

	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	payment.FeeID = fee.ID
	now := time.Now().UTC()
	if payment.PaidAt.IsZero() {
		payment.PaidAt = now
	}
	payment.CreatedAt = now
	const insert = `INSERT INTO fee_payments (id, fee_id, amount, method, transaction_ref, remarks, receipt_number, paid_at, created_at)
        VALUES (:id, :fee_id, :amount, :method, :transaction_ref, :remarks, :receipt_number, :paid_at, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insert, payment); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("insert payment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit payment: %w", err)
	}
	return fee, nil
}

// ApplyDiscount locks the fee row, runs the ledger mutation and persists the
// updated fee together with the discount entry atomically.
func (r *FeeRepository) ApplyDiscount(ctx context.Context, feeID string, discount *models.FeeDiscount, apply func(*models.Fee) error) (*models.Fee, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin discount: %w", err)
	}

	fee, err := lockFee(ctx, tx, feeID)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}

	if err := apply(fee); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}

	if err := updateFeeTx(ctx, tx, fee); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}

	if discount.ID == "" {
		discount.ID = uuid.NewString()
	}
	discount.FeeID = fee.ID
	discount.CreatedAt = time.Now().UTC()
	const insert = `INSERT INTO fee_discounts (id, fee_id, amount, reason, created_at)
        VALUES (:id, :fee_id, :amount, :reason, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insert, discount); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("insert discount: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit discount: %w", err)
	}
	return fee, nil
}

func lockFee(ctx context.Context, tx *sqlx.Tx, feeID string) (*models.Fee, error) {
	query := fmt.Sprintf("SELECT %s FROM fees WHERE id = $1 FOR UPDATE", feeColumns)
	var fee models.Fee
	if err := tx.GetContext(ctx, &fee, query, feeID); err != nil {
		return nil, err
	}
	return &fee, nil
}

func updateFeeTx(ctx context.Context, tx *sqlx.Tx, fee *models.Fee) error {
	fee.UpdatedAt = time.Now().UTC()
	const query = `UPDATE fees SET paid_amount = :paid_amount, due_amount = :due_amount, status = :status, updated_at = :updated_at WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, query, fee); err != nil {
		return fmt.Errorf("update fee: %w", err)
	}
	return nil
}

// ListPayments returns the payments of a fee, newest first.
func (r *FeeRepository) ListPayments(ctx context.Context, feeID string) ([]models.FeePayment, error) {
	const query = `SELECT id, fee_id, amount, method, transaction_ref, remarks, receipt_number, paid_at, created_at
        FROM fee_payments WHERE fee_id = $1 ORDER BY paid_at DESC`
	var payments []models.FeePayment
	if err := r.db.SelectContext(ctx, &payments, query, feeID); err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return payments, nil
}

// FindPayment fetches a single payment scoped to its fee.
func (r *FeeRepository) FindPayment(ctx context.Context, feeID, paymentID string) (*models.FeePayment, error) {
	const query = `SELECT id, fee_id, amount, method, transaction_ref, remarks, receipt_number, paid_at, created_at
        FROM fee_payments WHERE id = $1 AND fee_id = $2`
	var payment models.FeePayment
	if err := r.db.GetContext(ctx, &payment, query, paymentID, feeID); err != nil {
		return nil, err
	}
	return &payment, nil
}

// ListDiscounts returns the discounts of a fee, newest first.
func (r *FeeRepository) ListDiscounts(ctx context.Context, feeID string) ([]models.FeeDiscount, error) {
	const query = `SELECT id, fee_id, amount, reason, created_at FROM fee_discounts WHERE fee_id = $1 ORDER BY created_at DESC`
	var discounts []models.FeeDiscount
	if err := r.db.SelectContext(ctx, &discounts, query, feeID); err != nil {
		return nil, fmt.Errorf("list discounts: %w", err)
	}
	return discounts, nil
}

// Summary folds ledger state across the fees matching the filter.
func (r *FeeRepository) Summary(ctx context.Context, filter models.FeeFilter) (*models.FeeSummary, error) {
	var args []interface{}
	conditions := feeFilterConditions(filter, &args)
	where := strings.Join(conditions, " AND ")

	query := fmt.Sprintf(`SELECT
        COALESCE(SUM(f.total_fee), 0) AS total_billed,
        COALESCE(SUM(f.paid_amount), 0) AS total_collected,
        COALESCE(SUM(f.due_amount), 0) AS total_outstanding,
        COALESCE(COUNT(*) FILTER (WHERE f.status = 'pending'), 0) AS pending_count,
        COALESCE(COUNT(*) FILTER (WHERE f.status = 'partial'), 0) AS partial_count,
        COALESCE(COUNT(*) FILTER (WHERE f.status = 'paid'), 0) AS paid_count,
        COALESCE(COUNT(*) FILTER (WHERE f.status = 'overdue'), 0) AS overdue_count
        FROM fees f WHERE %s`, where)

	var summary models.FeeSummary
	if err := r.db.GetContext(ctx, &summary, query, args...); err != nil {
		return nil, fmt.Errorf("fee summary: %w", err)
	}

	discountQuery := fmt.Sprintf(`SELECT COALESCE(SUM(d.amount), 0) AS total_discount
        FROM fee_discounts d JOIN fees f ON f.id = d.fee_id WHERE %s`, where)
	if err := r.db.GetContext(ctx, &summary.TotalDiscount, discountQuery, args...); err != nil {
		return nil, fmt.Errorf("fee discount summary: %w", err)
	}

	summary.GeneratedAt = time.Now().UTC()
	return &summary, nil
}

// MarkOverdue flags every fee whose due date has passed with a balance still
// outstanding. Returns the number of fees updated.
func (r *FeeRepository) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	const query = `UPDATE fees SET status = 'overdue', updated_at = $2
        WHERE due_date < $1 AND due_amount > 0 AND status IN ('pending', 'partial')`
	result, err := r.db.ExecContext(ctx, query, asOf, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("mark overdue: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark overdue rows: %w", err)
	}
	return affected, nil
}

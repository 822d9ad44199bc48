package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/edusys-id/sekolah-api/internal/models"
	appErrors "github.com/edusys-id/sekolah-api/pkg/errors"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	ExistsByNIS(ctx context.Context, nis string, excludeID string) (bool, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	Deactivate(ctx context.Context, id string) error
}

type studentClassRepository interface {
	ExistsByID(ctx context.Context, id string) (bool, error)
}

type rollAllocator interface {
	Reassign(ctx context.Context, classID string) error
}

// CreateStudentRequest holds payload for creating students.
type CreateStudentRequest struct {
	NIS      string `json:"nis" validate:"required"`
	FullName string `json:"full_name" validate:"required"`
	ClassID  string `json:"class_id" validate:"required"`
	Gender   string `json:"gender" validate:"required"`
	Address  string `json:"address"`
	Phone    string `json:"phone"`
}

// UpdateStudentRequest holds payload for updating students.
type UpdateStudentRequest struct {
	NIS      string `json:"nis" validate:"required"`
	FullName string `json:"full_name" validate:"required"`
	ClassID  string `json:"class_id" validate:"required"`
	Gender   string `json:"gender" validate:"required"`
	Address  string `json:"address"`
	Phone    string `json:"phone"`
}

// StudentService handles student use-cases. Every mutation that can disturb
// name ordering or class membership triggers a roll-number reassignment for
// the affected class (or classes, on a move).
type StudentService struct {
	repo      studentRepository
	classes   studentClassRepository
	rolls     rollAllocator
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, classes studentClassRepository, rolls rollAllocator, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, classes: classes, rolls: rolls, validator: validate, logger: logger}
}

// List returns students and pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return students, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a student by ID.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// Create registers a new active student and renumbers the class.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	exists, err := s.classes.ExistsByID(ctx, req.ClassID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check class")
	}
	if !exists {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
	}
	duplicate, err := s.repo.ExistsByNIS(ctx, req.NIS, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate nis")
	}
	if duplicate {
		return nil, appErrors.Clone(appErrors.ErrConflict, "nis already used")
	}

	student := &models.Student{
		NIS:      req.NIS,
		FullName: req.FullName,
		ClassID:  req.ClassID,
		Status:   models.StudentStatusActive,
		Gender:   req.Gender,
		Address:  req.Address,
		Phone:    req.Phone,
	}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}

	if err := s.rolls.Reassign(ctx, student.ClassID); err != nil {
		return nil, err
	}
	return s.Get(ctx, student.ID)
}

// Update modifies an existing student, renumbering every class whose
// ordering the change can disturb. Contact-detail updates skip the
// allocator entirely.
func (s *StudentService) Update(ctx context.Context, id string, req UpdateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	duplicate, err := s.repo.ExistsByNIS(ctx, req.NIS, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate nis")
	}
	if duplicate {
		return nil, appErrors.Clone(appErrors.ErrConflict, "nis already used")
	}

	nameChanged := student.FullName != req.FullName
	classChanged := student.ClassID != req.ClassID
	if classChanged {
		exists, err := s.classes.ExistsByID(ctx, req.ClassID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check class")
		}
		if !exists {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
	}

	oldClassID := student.ClassID
	student.NIS = req.NIS
	student.FullName = req.FullName
	student.ClassID = req.ClassID
	student.Gender = req.Gender
	student.Address = req.Address
	student.Phone = req.Phone
	if classChanged {
		// Park the roll number so it cannot collide inside the new class
		// before the allocator runs.
		student.RollNo = "tmp-" + student.ID
	}
	if err := s.repo.Update(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}

	if student.Status == models.StudentStatusActive {
		switch {
		case classChanged:
			if err := s.rolls.Reassign(ctx, oldClassID); err != nil {
				return nil, err
			}
			if err := s.rolls.Reassign(ctx, student.ClassID); err != nil {
				return nil, err
			}
		case nameChanged:
			if err := s.rolls.Reassign(ctx, student.ClassID); err != nil {
				return nil, err
			}
		}
	}
	return s.Get(ctx, id)
}

// Deactivate soft-deletes a student and closes the roll-number gap.
func (s *StudentService) Deactivate(ctx context.Context, id string) error {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.Status == models.StudentStatusInactive {
		return nil
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate student")
	}
	return s.rolls.Reassign(ctx, student.ClassID)
}

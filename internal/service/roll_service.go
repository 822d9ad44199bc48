package service

import (
	"context"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edusys-id/sekolah-api/internal/models"
	appErrors "github.com/edusys-id/sekolah-api/pkg/errors"
)

type rollStudentRepository interface {
	ListActiveByClass(ctx context.Context, classID string) ([]models.Student, error)
	ApplyRollAssignments(ctx context.Context, phases [][]models.RollAssignment) error
}

// RollService keeps the roll numbers of a class contiguous: the active
// students, ordered by name, hold exactly the values "1".."N".
type RollService struct {
	repo    rollStudentRepository
	metrics *MetricsService
	logger  *zap.Logger
}

// NewRollService constructs the roll allocator.
func NewRollService(repo rollStudentRepository, metrics *MetricsService, logger *zap.Logger) *RollService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RollService{repo: repo, metrics: metrics, logger: logger}
}

// Reassign recomputes and persists the full roll-number sequence for a class.
//
// Roll numbers are unique per class, so writing targets directly can collide
// with values not yet vacated (the holder of "2" moving to "3" while "3" is
// still taken). The write therefore runs in two phases inside one
// transaction: phase 1 moves every student to a quarantine value tagged with
// a run-unique token, vacating the whole numeric range; phase 2 writes the
// final values. Safe to call repeatedly; re-running from any intermediate
// state converges, since phase 1 re-quarantines whatever it reads.
func (s *RollService) Reassign(ctx context.Context, classID string) error {
	students, err := s.repo.ListActiveByClass(ctx, classID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class roster")
	}
	if len(students) == 0 {
		return nil
	}

	// Name order, existing order preserved on ties.
	sort.SliceStable(students, func(i, j int) bool {
		return students[i].FullName < students[j].FullName
	})

	token := uuid.NewString()[:8]
	quarantine := make([]models.RollAssignment, len(students))
	final := make([]models.RollAssignment, len(students))
	for i, student := range students {
		quarantine[i] = models.RollAssignment{StudentID: student.ID, RollNo: "tmp-" + token + "-" + strconv.Itoa(i+1)}
		final[i] = models.RollAssignment{StudentID: student.ID, RollNo: strconv.Itoa(i + 1)}
	}

	if err := s.repo.ApplyRollAssignments(ctx, [][]models.RollAssignment{quarantine, final}); err != nil {
		s.logger.Error("roll reassignment failed", zap.String("class_id", classID), zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reassign roll numbers")
	}

	s.metrics.RecordRollReassignment()
	s.logger.Info("roll numbers reassigned", zap.String("class_id", classID), zap.Int("students", len(students)))
	return nil
}

package service

import (
	"context"
	"database/sql"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edusys-id/sekolah-api/internal/models"
	appErrors "github.com/edusys-id/sekolah-api/pkg/errors"
)

type mockStudentRepo struct {
	students map[string]*models.Student
	nextID   int
}

func newMockStudentRepo() *mockStudentRepo {
	return &mockStudentRepo{students: make(map[string]*models.Student)}
}

func (m *mockStudentRepo) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	out := make([]models.Student, 0, len(m.students))
	for _, s := range m.students {
		out = append(out, *s)
	}
	return out, len(out), nil
}

func (m *mockStudentRepo) FindByID(ctx context.Context, id string) (*models.Student, error) {
	s, ok := m.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *s
	return &clone, nil
}

func (m *mockStudentRepo) ExistsByNIS(ctx context.Context, nis string, excludeID string) (bool, error) {
	for _, s := range m.students {
		if s.NIS == nis && s.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStudentRepo) Create(ctx context.Context, student *models.Student) error {
	m.nextID++
	student.ID = "student-" + strconv.Itoa(m.nextID)
	student.RollNo = "tmp-" + student.ID
	clone := *student
	m.students[student.ID] = &clone
	return nil
}

func (m *mockStudentRepo) Update(ctx context.Context, student *models.Student) error {
	clone := *student
	m.students[student.ID] = &clone
	return nil
}

func (m *mockStudentRepo) Deactivate(ctx context.Context, id string) error {
	s, ok := m.students[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.Status = models.StudentStatusInactive
	s.RollNo = "x-" + s.ID
	return nil
}

type mockStudentClassRepo struct {
	classes map[string]bool
}

func (m *mockStudentClassRepo) ExistsByID(ctx context.Context, id string) (bool, error) {
	return m.classes[id], nil
}

type recordingAllocator struct {
	reassigned []string
}

func (r *recordingAllocator) Reassign(ctx context.Context, classID string) error {
	r.reassigned = append(r.reassigned, classID)
	return nil
}

func newStudentFixture() (*StudentService, *mockStudentRepo, *recordingAllocator) {
	repo := newMockStudentRepo()
	classes := &mockStudentClassRepo{classes: map[string]bool{"class-1": true, "class-2": true}}
	rolls := &recordingAllocator{}
	return NewStudentService(repo, classes, rolls, nil, zap.NewNop()), repo, rolls
}

func seedStudent(repo *mockStudentRepo, id, name, classID string) {
	repo.students[id] = &models.Student{
		ID:       id,
		NIS:      "nis-" + id,
		FullName: name,
		ClassID:  classID,
		RollNo:   "1",
		Status:   models.StudentStatusActive,
		Gender:   "M",
	}
}

func TestStudentCreateTriggersReassign(t *testing.T) {
	svc, _, rolls := newStudentFixture()

	student, err := svc.Create(context.Background(), CreateStudentRequest{
		NIS:      "2025001",
		FullName: "Andi Wijaya",
		ClassID:  "class-1",
		Gender:   "M",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StudentStatusActive, student.Status)
	assert.Equal(t, []string{"class-1"}, rolls.reassigned)
}

func TestStudentCreateUnknownClass(t *testing.T) {
	svc, _, rolls := newStudentFixture()

	_, err := svc.Create(context.Background(), CreateStudentRequest{
		NIS:      "2025001",
		FullName: "Andi Wijaya",
		ClassID:  "class-9",
		Gender:   "M",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	assert.Empty(t, rolls.reassigned)
}

func TestStudentCreateDuplicateNIS(t *testing.T) {
	svc, repo, rolls := newStudentFixture()
	seedStudent(repo, "s1", "Andi", "class-1")
	repo.students["s1"].NIS = "2025001"

	_, err := svc.Create(context.Background(), CreateStudentRequest{
		NIS:      "2025001",
		FullName: "Budi",
		ClassID:  "class-1",
		Gender:   "M",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Empty(t, rolls.reassigned)
}

func TestStudentUpdateNameChangeReassignsClass(t *testing.T) {
	svc, repo, rolls := newStudentFixture()
	seedStudent(repo, "s1", "Andi", "class-1")

	_, err := svc.Update(context.Background(), "s1", UpdateStudentRequest{
		NIS:      "nis-s1",
		FullName: "Zaki",
		ClassID:  "class-1",
		Gender:   "M",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"class-1"}, rolls.reassigned)
}

func TestStudentUpdateClassMoveReassignsBothClasses(t *testing.T) {
	svc, repo, rolls := newStudentFixture()
	seedStudent(repo, "s1", "Andi", "class-1")

	student, err := svc.Update(context.Background(), "s1", UpdateStudentRequest{
		NIS:      "nis-s1",
		FullName: "Andi",
		ClassID:  "class-2",
		Gender:   "M",
	})
	require.NoError(t, err)
	assert.Equal(t, "class-2", student.ClassID)
	assert.Equal(t, []string{"class-1", "class-2"}, rolls.reassigned)
	// Roll parked before the allocator ran on the target class.
	assert.Equal(t, "tmp-s1", repo.students["s1"].RollNo)
}

func TestStudentUpdateContactOnlySkipsReassign(t *testing.T) {
	svc, repo, rolls := newStudentFixture()
	seedStudent(repo, "s1", "Andi", "class-1")

	_, err := svc.Update(context.Background(), "s1", UpdateStudentRequest{
		NIS:      "nis-s1",
		FullName: "Andi",
		ClassID:  "class-1",
		Gender:   "M",
		Phone:    "0812000111",
	})
	require.NoError(t, err)
	assert.Empty(t, rolls.reassigned)
	assert.Equal(t, "0812000111", repo.students["s1"].Phone)
}

func TestStudentDeactivateMangledRollAndReassign(t *testing.T) {
	svc, repo, rolls := newStudentFixture()
	seedStudent(repo, "s1", "Andi", "class-1")

	require.NoError(t, svc.Deactivate(context.Background(), "s1"))
	assert.Equal(t, models.StudentStatusInactive, repo.students["s1"].Status)
	assert.Equal(t, "x-s1", repo.students["s1"].RollNo)
	assert.Equal(t, []string{"class-1"}, rolls.reassigned)
}

func TestStudentDeactivateIdempotent(t *testing.T) {
	svc, repo, rolls := newStudentFixture()
	seedStudent(repo, "s1", "Andi", "class-1")
	repo.students["s1"].Status = models.StudentStatusInactive

	require.NoError(t, svc.Deactivate(context.Background(), "s1"))
	assert.Empty(t, rolls.reassigned)
}

func TestStudentDeactivateNotFound(t *testing.T) {
	svc, _, _ := newStudentFixture()

	err := svc.Deactivate(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

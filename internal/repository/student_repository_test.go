package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edusys-id/sekolah-api/internal/models"
)

func newStudentMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func studentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "nis", "full_name", "class_id", "roll_no", "status", "gender", "address", "phone", "created_at", "updated_at"}).
		AddRow("s1", "001", "Andi", "class-1", "1", "active", "M", "Street", "123", time.Now(), time.Now())
}

func TestStudentRepositoryList(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, nis, full_name, class_id, roll_no, status, gender, address, phone, created_at, updated_at FROM students WHERE 1=1 ORDER BY full_name ASC LIMIT 20 OFFSET 0")).
		WillReturnRows(studentRows())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM students WHERE 1=1")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	students, total, err := repo.List(context.Background(), models.StudentFilter{})
	require.NoError(t, err)
	assert.Len(t, students, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryListActiveByClassOrdersByName(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY full_name ASC, created_at ASC, id ASC")).
		WithArgs("class-1", models.StudentStatusActive).
		WillReturnRows(studentRows())

	students, err := repo.ListActiveByClass(context.Background(), "class-1")
	require.NoError(t, err)
	assert.Len(t, students, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCreateAssignsPlaceholderRoll(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec("INSERT INTO students").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	student := &models.Student{NIS: "001", FullName: "Andi", ClassID: "class-1", Status: models.StudentStatusActive, Gender: "M"}
	require.NoError(t, repo.Create(context.Background(), student))
	assert.NotEmpty(t, student.ID)
	assert.Equal(t, "tmp-"+student.ID, student.RollNo)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryDeactivateManglesRoll(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE students SET status = $2, roll_no = 'x-' || id, updated_at = $3 WHERE id = $1")).
		WithArgs("s1", models.StudentStatusInactive, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Deactivate(context.Background(), "s1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryApplyRollAssignmentsOrdersPhases(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	quarantine := []models.RollAssignment{
		{StudentID: "s1", RollNo: "tmp-ab12cd34-1"},
		{StudentID: "s2", RollNo: "tmp-ab12cd34-2"},
	}
	final := []models.RollAssignment{
		{StudentID: "s1", RollNo: "1"},
		{StudentID: "s2", RollNo: "2"},
	}

	// Expectations are ordered: every quarantine write must land before any
	// final write, all inside one transaction.
	mock.ExpectBegin()
	for _, assignment := range append(append([]models.RollAssignment{}, quarantine...), final...) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE students SET roll_no = $1, updated_at = $2 WHERE id = $3")).
			WithArgs(assignment.RollNo, sqlmock.AnyArg(), assignment.StudentID).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	err := repo.ApplyRollAssignments(context.Background(), [][]models.RollAssignment{quarantine, final})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryApplyRollAssignmentsRollsBackOnFailure(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	phase := []models.RollAssignment{
		{StudentID: "s1", RollNo: "tmp-ab12cd34-1"},
		{StudentID: "s2", RollNo: "tmp-ab12cd34-2"},
	}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE students SET roll_no").
		WithArgs("tmp-ab12cd34-1", sqlmock.AnyArg(), "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE students SET roll_no").
		WithArgs("tmp-ab12cd34-2", sqlmock.AnyArg(), "s2").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.ApplyRollAssignments(context.Background(), [][]models.RollAssignment{phase})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

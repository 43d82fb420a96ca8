package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-eligibility-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var circularDependencyRowColumns = []string{"id", "course_id", "has_circular_dependency", "dependency_path", "involved_courses", "severity",
	"detection_date", "is_resolved", "resolution_date", "resolved_by", "resolution_note"}

func TestCircularDependencyCreateCycleKeepsEarlierFindings(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCircularDependencyRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO circular_dependency_results")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result := &models.CircularDependencyResult{
		CourseID:              "cs201",
		HasCircularDependency: true,
		DependencyPath:        []string{"CS201", "CS101", "CS201"},
		InvolvedCourses:       []string{"CS101", "CS201"},
		Severity:              models.SeverityLow,
		DetectionDate:         time.Now().UTC(),
	}
	require.NoError(t, repo.Create(context.Background(), result))
	assert.NotEmpty(t, result.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCircularDependencyCreateStoresResolvedDetection(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCircularDependencyRepository(db)
	at := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO circular_dependency_results")).
		WithArgs(sqlmock.AnyArg(), "cs201", true, sqlmock.AnyArg(), sqlmock.AnyArg(), "LOW", at,
			true, at, "registrar-1", "activation refused").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	resolver, note := "registrar-1", "activation refused"
	result := &models.CircularDependencyResult{
		CourseID:              "cs201",
		HasCircularDependency: true,
		DependencyPath:        []string{"CS101", "CS201", "CS101"},
		InvolvedCourses:       []string{"CS101", "CS201"},
		Severity:              models.SeverityLow,
		DetectionDate:         at,
		IsResolved:            true,
		ResolutionDate:        &at,
		ResolvedBy:            &resolver,
		ResolutionNote:        &note,
	}
	require.NoError(t, repo.Create(context.Background(), result))
	assert.False(t, result.Blocking())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCircularDependencyCreateCleanClosesStaleFindings(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCircularDependencyRepository(db)
	detected := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO circular_dependency_results")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE circular_dependency_results SET is_resolved = TRUE")).
		WithArgs(detected, ScanResolver, "cs201").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	result := &models.CircularDependencyResult{CourseID: "cs201", Severity: models.SeverityNone, DetectionDate: detected}
	require.NoError(t, repo.Create(context.Background(), result))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCircularDependencyFindBlocking(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCircularDependencyRepository(db)
	rows := sqlmock.NewRows(circularDependencyRowColumns).
		AddRow("dep-1", "cs201", true, "{CS201,CS101,CS201}", "{CS101,CS201}", "LOW", time.Now(), false, nil, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, course_id, has_circular_dependency")).
		WithArgs("cs201").
		WillReturnRows(rows)

	results, err := repo.FindBlocking(context.Background(), "cs201")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Blocking())
	assert.Equal(t, []string{"CS201", "CS101", "CS201"}, []string(results[0].DependencyPath))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCircularDependencyResolveAlreadyResolved(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCircularDependencyRepository(db)
	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE circular_dependency_results SET is_resolved = TRUE")).
		WithArgs(at, "registrar-1", nil, "dep-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Resolve(context.Background(), "dep-1", "registrar-1", nil, at)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

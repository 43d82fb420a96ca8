package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-eligibility-api/internal/models"
)

func TestCourseRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCourseRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, code, title, subject_area, credit_hours FROM courses WHERE id = $1")).
		WithArgs("cs201").
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "title", "subject_area", "credit_hours"}).
			AddRow("cs201", "CS201", "Data Structures", "CS", 4.0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM courses WHERE id = $1")).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	course, err := repo.FindByID(context.Background(), "cs201")
	require.NoError(t, err)
	assert.Equal(t, "CS201", course.Code)
	assert.Equal(t, 4.0, course.CreditHours)

	_, err = repo.FindByID(context.Background(), "ghost")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryListIDs(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCourseRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM courses ORDER BY code")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("cs101").AddRow("cs201"))

	ids, err := repo.ListIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"cs101", "cs201"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryListPrerequisiteEdges(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCourseRepository(db)
	mock.ExpectQuery(`(?s)FROM prerequisite_requirements req.*req\.is_active = TRUE AND pr\.is_active = TRUE AND req\.requirement_type = 'COMPLETED_COURSE'`).
		WillReturnRows(sqlmock.NewRows([]string{"course_id", "course_code", "required_course_id", "required_course_code"}).
			AddRow("cs201", "CS201", "cs101", "CS101").
			AddRow("cs301", "CS301", "cs201", "CS201"))

	edges, err := repo.ListPrerequisiteEdges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.CourseEdge{
		{CourseID: "cs201", CourseCode: "CS201", RequiredCourseID: "cs101", RequiredCourseCode: "CS101"},
		{CourseID: "cs301", CourseCode: "CS301", RequiredCourseID: "cs201", RequiredCourseCode: "CS201"},
	}, edges)
	require.NoError(t, mock.ExpectationsWereMet())
}

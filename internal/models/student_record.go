package models

import "time"

// ClassStanding is the student's year level, ordered from FRESHMAN to GRADUATE.
type ClassStanding string

const (
	StandingFreshman  ClassStanding = "FRESHMAN"
	StandingSophomore ClassStanding = "SOPHOMORE"
	StandingJunior    ClassStanding = "JUNIOR"
	StandingSenior    ClassStanding = "SENIOR"
	StandingGraduate  ClassStanding = "GRADUATE"
)

var standingRank = map[ClassStanding]int{
	StandingFreshman:  1,
	StandingSophomore: 2,
	StandingJunior:    3,
	StandingSenior:    4,
	StandingGraduate:  5,
}

// Valid reports whether s is a known standing.
func (s ClassStanding) Valid() bool {
	_, ok := standingRank[s]
	return ok
}

// Rank orders standings; unknown standings rank 0.
func (s ClassStanding) Rank() int {
	return standingRank[s]
}

// StudentLevel separates undergraduate from graduate records.
type StudentLevel string

const (
	LevelUndergraduate StudentLevel = "UNDERGRADUATE"
	LevelGraduate      StudentLevel = "GRADUATE"
)

// CompletedCourse is one graded attempt on the student's transcript.
type CompletedCourse struct {
	CourseID    string    `db:"course_id" json:"course_id"`
	CourseCode  string    `db:"course_code" json:"course_code"`
	SubjectArea string    `db:"subject_area" json:"subject_area"`
	Grade       string    `db:"grade" json:"grade"`
	CreditHours float64   `db:"credit_hours" json:"credit_hours"`
	TermID      string    `db:"term_id" json:"term_id"`
	CompletedAt time.Time `db:"completed_at" json:"completed_at"`
}

// TransferCredit is external coursework articulated to a local course.
type TransferCredit struct {
	EquivalentCourseID string  `db:"equivalent_course_id" json:"equivalent_course_id"`
	Institution        string  `db:"institution" json:"institution"`
	Grade              *string `db:"grade" json:"grade,omitempty"`
	CreditHours        float64 `db:"credit_hours" json:"credit_hours"`
}

// TestEquivalency is course credit earned by examination (AP, CLEP, placement).
type TestEquivalency struct {
	EquivalentCourseID string    `db:"equivalent_course_id" json:"equivalent_course_id"`
	TestName           string    `db:"test_name" json:"test_name"`
	Score              float64   `db:"score" json:"score"`
	AwardedAt          time.Time `db:"awarded_at" json:"awarded_at"`
}

// TestScore is a raw standardized or placement test result.
type TestScore struct {
	TestName string    `db:"test_name" json:"test_name"`
	Score    float64   `db:"score" json:"score"`
	TakenAt  time.Time `db:"taken_at" json:"taken_at"`
}

// PermissionGrant is an explicit permission recorded for the student.
type PermissionGrant struct {
	ID         string     `db:"id" json:"id"`
	Permission string     `db:"permission" json:"permission"`
	CourseID   *string    `db:"course_id" json:"course_id,omitempty"`
	DocumentID *string    `db:"document_id" json:"document_id,omitempty"`
	GrantedBy  string     `db:"granted_by" json:"granted_by"`
	GrantedAt  time.Time  `db:"granted_at" json:"granted_at"`
	ExpiresAt  *time.Time `db:"expires_at" json:"expires_at,omitempty"`
}

// StudentDocument is supporting documentation on file.
type StudentDocument struct {
	ID       string `db:"id" json:"id"`
	Type     string `db:"document_type" json:"document_type"`
	Verified bool   `db:"verified" json:"verified"`
}

// CurrentEnrollment is a course the student is registered for in a term.
type CurrentEnrollment struct {
	CourseID string `db:"course_id" json:"course_id"`
	TermID   string `db:"term_id" json:"term_id"`
}

// StudentSummary carries the aggregate columns of a student record.
type StudentSummary struct {
	StudentID        string       `db:"student_id" json:"student_id"`
	Major            string       `db:"major" json:"major"`
	Level            StudentLevel `db:"level" json:"level"`
	CumulativeGPA    *float64     `db:"cumulative_gpa" json:"cumulative_gpa,omitempty"`
	MajorGPA         *float64     `db:"major_gpa" json:"major_gpa,omitempty"`
	TotalCreditHours float64      `db:"total_credit_hours" json:"total_credit_hours"`
}

// SubjectGPA is a GPA computed over one subject area.
type SubjectGPA struct {
	SubjectArea string  `db:"subject_area" json:"subject_area"`
	GPA         float64 `db:"gpa" json:"gpa"`
}

// StudentRecord is the academic record snapshot requirements are evaluated against.
type StudentRecord struct {
	StudentSummary
	SubjectGPAs        map[string]float64  `json:"subject_gpas"`
	CompletedCourses   []CompletedCourse   `json:"completed_courses"`
	TransferCredits    []TransferCredit    `json:"transfer_credits"`
	TestEquivalencies  []TestEquivalency   `json:"test_equivalencies"`
	TestScores         []TestScore         `json:"test_scores"`
	PermissionGrants   []PermissionGrant   `json:"permission_grants"`
	Documents          []StudentDocument   `json:"documents"`
	CurrentEnrollments []CurrentEnrollment `json:"current_enrollments"`
}

// Standing derives class standing from credit hour thresholds.
func (r StudentRecord) Standing() ClassStanding {
	if r.Level == LevelGraduate {
		return StandingGraduate
	}
	switch hours := r.TotalCreditHours; {
	case hours >= 90:
		return StandingSenior
	case hours >= 60:
		return StandingJunior
	case hours >= 30:
		return StandingSophomore
	default:
		return StandingFreshman
	}
}

// Document returns the document with the given id.
func (r StudentRecord) Document(id string) (StudentDocument, bool) {
	for _, doc := range r.Documents {
		if doc.ID == id {
			return doc, true
		}
	}
	return StudentDocument{}, false
}

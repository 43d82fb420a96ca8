package models

// Course is the catalog entry rules and results hang off.
type Course struct {
	ID          string  `db:"id" json:"id"`
	Code        string  `db:"code" json:"code"`
	Title       string  `db:"title" json:"title"`
	SubjectArea string  `db:"subject_area" json:"subject_area"`
	CreditHours float64 `db:"credit_hours" json:"credit_hours"`
}

// CourseEdge is one prerequisite relationship: CourseID requires RequiredCourseID.
type CourseEdge struct {
	CourseID           string `db:"course_id" json:"course_id"`
	CourseCode         string `db:"course_code" json:"course_code"`
	RequiredCourseID   string `db:"required_course_id" json:"required_course_id"`
	RequiredCourseCode string `db:"required_course_code" json:"required_course_code"`
}

package service

import "strings"

// gradePoints is the fixed letter-grade ordering used for minimum grade comparisons.
var gradePoints = map[string]float64{
	"A+": 4.0,
	"A":  4.0,
	"A-": 3.7,
	"B+": 3.3,
	"B":  3.0,
	"B-": 2.7,
	"C+": 2.3,
	"C":  2.0,
	"C-": 1.7,
	"D+": 1.3,
	"D":  1.0,
	"D-": 0.7,
	"F":  0.0,
}

// passGrades are ungraded passes; they count as the scale's pass equivalent.
var passGrades = map[string]struct{}{
	"P":  {},
	"S":  {},
	"CR": {},
}

// GradeScale compares letter grades. W, I, NP, U, AU and unknown grades never satisfy.
type GradeScale struct {
	passEquivalent float64
}

// NewGradeScale builds a scale where pass/fail passes count as passEquivalent (default C).
func NewGradeScale(passEquivalent string) GradeScale {
	points, ok := gradePoints[normalizeGrade(passEquivalent)]
	if !ok || points == 0 {
		points = gradePoints["C"]
	}
	return GradeScale{passEquivalent: points}
}

// Known reports whether grade is on the letter scale.
func (s GradeScale) Known(grade string) bool {
	_, ok := gradePoints[normalizeGrade(grade)]
	return ok
}

// Points returns the grade points and whether the grade earns credit.
func (s GradeScale) Points(grade string) (float64, bool) {
	g := normalizeGrade(grade)
	if _, ok := passGrades[g]; ok {
		return s.passEquivalent, true
	}
	points, ok := gradePoints[g]
	if !ok || points == 0 {
		return 0, false
	}
	return points, true
}

// Meets reports whether grade is at least minimum. An empty minimum accepts any passing grade.
func (s GradeScale) Meets(grade, minimum string) bool {
	points, passing := s.Points(grade)
	if !passing {
		return false
	}
	if strings.TrimSpace(minimum) == "" {
		return true
	}
	required, ok := gradePoints[normalizeGrade(minimum)]
	if !ok {
		return false
	}
	return points >= required
}

// Better reports whether grade a ranks above grade b.
func (s GradeScale) Better(a, b string) bool {
	pa, okA := s.Points(a)
	pb, okB := s.Points(b)
	if okA != okB {
		return okA
	}
	return pa > pb
}

func normalizeGrade(grade string) string {
	return strings.ToUpper(strings.TrimSpace(grade))
}

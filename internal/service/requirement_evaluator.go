package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/course-eligibility-api/internal/models"
)

// EvaluationContext is everything a single requirement is evaluated against.
type EvaluationContext struct {
	Record   *models.StudentRecord
	CourseID string
	TermID   string
	AsOf     time.Time
}

// RequirementEvaluator evaluates atomic requirements and restrictions against a
// student record. It is a pure function of its inputs and never returns an
// error: missing data and bad configuration both resolve to an unsatisfied result.
type RequirementEvaluator struct {
	grades GradeScale
}

// NewRequirementEvaluator constructs an evaluator using the given grade scale.
func NewRequirementEvaluator(grades GradeScale) *RequirementEvaluator {
	return &RequirementEvaluator{grades: grades}
}

// Evaluate checks one prerequisite requirement.
func (e *RequirementEvaluator) Evaluate(req models.PrerequisiteRequirement, ec EvaluationContext) models.RequirementCheckResult {
	result := models.RequirementCheckResult{
		RequirementID: req.ID,
		Type:          req.Type,
		SequenceOrder: req.SequenceOrder,
		IsMandatory:   req.MustBeCompleted,
	}
	if ec.Record == nil {
		result.FailureReason = "academic record not available"
		return result
	}

	switch req.Type {
	case models.RequirementCompletedCourse:
		params, err := req.CourseCompletion()
		if err != nil {
			return configurationFailure(result, err)
		}
		if params.MinimumGrade != "" && !e.grades.Known(params.MinimumGrade) {
			return configurationFailure(result, fmt.Errorf("requirement %s: unknown minimum grade %q", req.ID, params.MinimumGrade))
		}
		return e.completedCourse(result, params, ec)
	case models.RequirementCreditHours:
		params, err := req.CreditHours()
		if err != nil {
			return configurationFailure(result, err)
		}
		return e.creditHours(result, params, ec)
	case models.RequirementClassStanding:
		params, err := req.ClassStanding()
		if err != nil {
			return configurationFailure(result, err)
		}
		return classStanding(result, params, ec)
	case models.RequirementGPA:
		params, err := req.GPA()
		if err != nil {
			return configurationFailure(result, err)
		}
		return gpa(result, params, ec)
	case models.RequirementPermission:
		params, err := req.Permission()
		if err != nil {
			return configurationFailure(result, err)
		}
		return permission(result, params, ec)
	case models.RequirementTestScore:
		params, err := req.TestScore()
		if err != nil {
			return configurationFailure(result, err)
		}
		return testScore(result, params, ec)
	default:
		return configurationFailure(result, fmt.Errorf("requirement %s: unsupported requirement type %q", req.ID, req.Type))
	}
}

// EvaluateCorequisite checks one concurrent-enrollment requirement.
func (e *RequirementEvaluator) EvaluateCorequisite(req models.CorequisiteRequirement, ec EvaluationContext) models.RequirementCheckResult {
	result := models.RequirementCheckResult{
		RequirementID: req.ID,
		Type:          models.RequirementConcurrentEnrollment,
		SequenceOrder: req.SequenceOrder,
		IsMandatory:   req.Mandatory(),
		RequiredValue: "enrolled in term " + ec.TermID,
	}
	if req.RequiredCourseCode == nil || *req.RequiredCourseCode == "" {
		return configurationFailure(result, fmt.Errorf("corequisite %s: references unknown course %s", req.ID, req.RequiredCourseID))
	}
	code := *req.RequiredCourseCode
	if ec.Record == nil {
		result.FailureReason = "academic record not available"
		return result
	}

	for _, enrollment := range ec.Record.CurrentEnrollments {
		if enrollment.CourseID == req.RequiredCourseID && enrollment.TermID == ec.TermID {
			result.IsSatisfied = true
			result.ActualValue = "enrolled"
			result.SatisfiedBy = models.SatisfiedByRecord
			return result
		}
	}
	if req.AllowPriorCompletion {
		if best, ok := e.bestAttempt(ec.Record, req.RequiredCourseID); ok && e.grades.Meets(best.Grade, "") {
			result.IsSatisfied = true
			result.ActualValue = "completed with " + best.Grade
			result.SatisfiedBy = models.SatisfiedByCourse
			return result
		}
	}
	result.ActualValue = "not enrolled"
	result.FailureReason = fmt.Sprintf("enroll in %s in the same term", code)
	return result
}

// EvaluateRestriction checks one enrollment restriction.
func (e *RequirementEvaluator) EvaluateRestriction(r models.EnrollmentRestriction, ec EvaluationContext) models.RestrictionCheckResult {
	result := models.RestrictionCheckResult{
		RestrictionID:    r.ID,
		Type:             r.Type,
		EnforcementLevel: r.EnforcementLevel,
		Priority:         r.Priority,
		Status:           models.CheckPassed,
	}
	if result.EnforcementLevel == "" {
		result.EnforcementLevel = models.EnforcementHard
	}
	mode := r.Mode
	if mode == "" {
		mode = models.RestrictionInclude
	}
	if mode != models.RestrictionInclude && mode != models.RestrictionExclude {
		return restrictionMisconfigured(result, fmt.Sprintf("restriction %s: invalid mode %q", r.ID, r.Mode))
	}
	if ec.Record == nil {
		result.IsViolated = true
		result.Status = violationStatus(result.EnforcementLevel)
		result.FailureReason = "academic record not available"
		return result
	}

	var violated bool
	switch r.Type {
	case models.RestrictionMajor:
		if len(r.Values) == 0 {
			return restrictionMisconfigured(result, fmt.Sprintf("restriction %s: no majors configured", r.ID))
		}
		result.ActualValue = ec.Record.Major
		result.RequiredValue = describeValues(mode, r.Values)
		violated = containsFold(r.Values, ec.Record.Major) != (mode == models.RestrictionInclude)
		if violated {
			result.FailureReason = fmt.Sprintf("major %s is not eligible (%s)", orNone(ec.Record.Major), result.RequiredValue)
		}
	case models.RestrictionClassStanding:
		if len(r.Values) == 0 {
			return restrictionMisconfigured(result, fmt.Sprintf("restriction %s: no class standings configured", r.ID))
		}
		standing := string(ec.Record.Standing())
		result.ActualValue = standing
		result.RequiredValue = describeValues(mode, r.Values)
		violated = containsFold(r.Values, standing) != (mode == models.RestrictionInclude)
		if violated {
			result.FailureReason = fmt.Sprintf("class standing %s is not eligible (%s)", standing, result.RequiredValue)
		}
	case models.RestrictionPermission:
		perm := ""
		if r.RequiredPermission != nil {
			perm = strings.TrimSpace(*r.RequiredPermission)
		}
		if perm == "" && len(r.Values) > 0 {
			perm = r.Values[0]
		}
		if perm == "" {
			return restrictionMisconfigured(result, fmt.Sprintf("restriction %s: no permission configured", r.ID))
		}
		result.RequiredValue = perm
		if _, ok := findGrant(ec, perm); ok {
			result.ActualValue = "granted"
		} else {
			result.ActualValue = "not granted"
			violated = true
			result.FailureReason = fmt.Sprintf("permission %s is required to enroll", perm)
		}
	default:
		return restrictionMisconfigured(result, fmt.Sprintf("restriction %s: unsupported type %q", r.ID, r.Type))
	}

	if violated {
		result.IsViolated = true
		result.Status = violationStatus(result.EnforcementLevel)
		if r.Message != nil && strings.TrimSpace(*r.Message) != "" {
			result.FailureReason = strings.TrimSpace(*r.Message)
		}
	}
	return result
}

func (e *RequirementEvaluator) completedCourse(result models.RequirementCheckResult, p models.CourseCompletionParams, ec EvaluationContext) models.RequirementCheckResult {
	result.RequiredValue = p.MinimumGrade
	if result.RequiredValue == "" {
		result.RequiredValue = "passing grade"
	}

	if p.AllowTransferCredit {
		for _, tc := range ec.Record.TransferCredits {
			if tc.EquivalentCourseID != p.CourseID {
				continue
			}
			if tc.Grade == nil || strings.TrimSpace(*tc.Grade) == "" {
				result.IsSatisfied = true
				result.ActualValue = "TR"
				result.SatisfiedBy = models.SatisfiedByTransfer
				return result
			}
			if e.grades.Meets(*tc.Grade, p.MinimumGrade) {
				result.IsSatisfied = true
				result.ActualValue = normalizeGrade(*tc.Grade)
				result.SatisfiedBy = models.SatisfiedByTransfer
				return result
			}
		}
	}
	if p.AllowTestEquivalency {
		for _, te := range ec.Record.TestEquivalencies {
			if te.EquivalentCourseID == p.CourseID {
				result.IsSatisfied = true
				result.ActualValue = fmt.Sprintf("%s %s", te.TestName, formatNumber(te.Score))
				result.SatisfiedBy = models.SatisfiedByTestEquivalency
				return result
			}
		}
	}

	best, ok := e.bestAttempt(ec.Record, p.CourseID)
	if !ok {
		result.FailureReason = fmt.Sprintf("%s not completed", p.CourseCode)
		return result
	}
	result.ActualValue = normalizeGrade(best.Grade)
	if e.grades.Meets(best.Grade, p.MinimumGrade) {
		result.IsSatisfied = true
		result.SatisfiedBy = models.SatisfiedByCourse
		return result
	}
	if p.MinimumGrade == "" {
		result.FailureReason = fmt.Sprintf("take %s and earn a passing grade", p.CourseCode)
	} else {
		result.FailureReason = fmt.Sprintf("take %s with grade %s or better", p.CourseCode, p.MinimumGrade)
	}
	return result
}

func (e *RequirementEvaluator) bestAttempt(record *models.StudentRecord, courseID string) (models.CompletedCourse, bool) {
	var (
		best  models.CompletedCourse
		found bool
	)
	for _, attempt := range record.CompletedCourses {
		if attempt.CourseID != courseID {
			continue
		}
		if !found || e.grades.Better(attempt.Grade, best.Grade) {
			best = attempt
			found = true
		}
	}
	return best, found
}

func (e *RequirementEvaluator) creditHours(result models.RequirementCheckResult, p models.CreditHoursParams, ec EvaluationContext) models.RequirementCheckResult {
	actual := ec.Record.TotalCreditHours
	scope := "total"
	if p.SubjectArea != "" {
		scope = p.SubjectArea
		actual = 0
		for _, attempt := range ec.Record.CompletedCourses {
			if !strings.EqualFold(attempt.SubjectArea, p.SubjectArea) {
				continue
			}
			if _, passing := e.grades.Points(attempt.Grade); passing {
				actual += attempt.CreditHours
			}
		}
	}
	result.ActualValue = formatNumber(actual)
	result.RequiredValue = formatNumber(p.Minimum)
	if actual >= p.Minimum {
		result.IsSatisfied = true
		result.SatisfiedBy = models.SatisfiedByRecord
		return result
	}
	result.FailureReason = fmt.Sprintf("complete at least %s %s credit hours (currently %s)", result.RequiredValue, scope, result.ActualValue)
	return result
}

func classStanding(result models.RequirementCheckResult, p models.ClassStandingParams, ec EvaluationContext) models.RequirementCheckResult {
	standing := ec.Record.Standing()
	result.ActualValue = string(standing)
	result.RequiredValue = string(p.Required)
	if standing.Rank() >= p.Required.Rank() {
		result.IsSatisfied = true
		result.SatisfiedBy = models.SatisfiedByRecord
		return result
	}
	result.FailureReason = fmt.Sprintf("class standing %s or higher required (currently %s)", p.Required, standing)
	return result
}

func gpa(result models.RequirementCheckResult, p models.GPAParams, ec EvaluationContext) models.RequirementCheckResult {
	var (
		value *float64
		label string
	)
	switch p.Scope {
	case models.GPAScopeMajor:
		value, label = ec.Record.MajorGPA, "major GPA"
	case models.GPAScopeSubjectArea:
		label = p.SubjectArea + " GPA"
		if v, ok := ec.Record.SubjectGPAs[strings.ToUpper(p.SubjectArea)]; ok {
			value = &v
		}
	default:
		value, label = ec.Record.CumulativeGPA, "cumulative GPA"
	}
	result.RequiredValue = fmt.Sprintf("%.2f", p.Minimum)
	if value == nil {
		result.FailureReason = label + " not available"
		return result
	}
	result.ActualValue = fmt.Sprintf("%.2f", *value)
	if *value >= p.Minimum {
		result.IsSatisfied = true
		result.SatisfiedBy = models.SatisfiedByRecord
		return result
	}
	result.FailureReason = fmt.Sprintf("%s of %s or higher required (currently %s)", label, result.RequiredValue, result.ActualValue)
	return result
}

func permission(result models.RequirementCheckResult, p models.PermissionParams, ec EvaluationContext) models.RequirementCheckResult {
	result.RequiredValue = p.Permission
	grant, ok := findGrant(ec, p.Permission)
	if !ok {
		result.ActualValue = "not granted"
		result.FailureReason = fmt.Sprintf("permission %s not granted", p.Permission)
		return result
	}
	result.ActualValue = "granted"
	if p.RequiresDocumentation {
		if grant.DocumentID == nil {
			result.FailureReason = fmt.Sprintf("permission %s requires supporting documentation", p.Permission)
			return result
		}
		doc, found := ec.Record.Document(*grant.DocumentID)
		if !found || !doc.Verified {
			result.FailureReason = fmt.Sprintf("documentation for permission %s is not verified", p.Permission)
			return result
		}
	}
	result.IsSatisfied = true
	result.SatisfiedBy = models.SatisfiedByRecord
	return result
}

func testScore(result models.RequirementCheckResult, p models.TestScoreParams, ec EvaluationContext) models.RequirementCheckResult {
	result.RequiredValue = formatNumber(p.Minimum)
	var (
		best     float64
		hasValid bool
		hasAny   bool
	)
	for _, score := range ec.Record.TestScores {
		if !strings.EqualFold(score.TestName, p.TestName) {
			continue
		}
		hasAny = true
		if p.ValidityMonths > 0 && score.TakenAt.AddDate(0, p.ValidityMonths, 0).Before(ec.AsOf) {
			continue
		}
		if !hasValid || score.Score > best {
			best = score.Score
			hasValid = true
		}
	}
	switch {
	case !hasAny:
		result.FailureReason = fmt.Sprintf("no %s score on file", p.TestName)
	case !hasValid:
		result.ActualValue = "expired"
		result.FailureReason = fmt.Sprintf("%s score is older than %d months", p.TestName, p.ValidityMonths)
	case best >= p.Minimum:
		result.ActualValue = formatNumber(best)
		result.IsSatisfied = true
		result.SatisfiedBy = models.SatisfiedByRecord
	default:
		result.ActualValue = formatNumber(best)
		result.FailureReason = fmt.Sprintf("%s score of %s or higher required (best %s)", p.TestName, result.RequiredValue, result.ActualValue)
	}
	return result
}

// findGrant returns an unexpired grant for the permission scoped to the course (or unscoped).
func findGrant(ec EvaluationContext, perm string) (models.PermissionGrant, bool) {
	for _, grant := range ec.Record.PermissionGrants {
		if !strings.EqualFold(grant.Permission, perm) {
			continue
		}
		if grant.CourseID != nil && *grant.CourseID != ec.CourseID {
			continue
		}
		if grant.ExpiresAt != nil && !ec.AsOf.Before(*grant.ExpiresAt) {
			continue
		}
		return grant, true
	}
	return models.PermissionGrant{}, false
}

func configurationFailure(result models.RequirementCheckResult, err error) models.RequirementCheckResult {
	result.IsSatisfied = false
	result.ConfigurationError = err.Error()
	result.FailureReason = "requirement is misconfigured; contact the registrar"
	return result
}

func restrictionMisconfigured(result models.RestrictionCheckResult, msg string) models.RestrictionCheckResult {
	result.IsViolated = true
	result.Status = models.CheckConfigurationError
	result.FailureReason = msg
	return result
}

func violationStatus(level models.EnforcementLevel) models.CheckStatus {
	if level == models.EnforcementWarning {
		return models.CheckWarning
	}
	return models.CheckViolated
}

func describeValues(mode models.RestrictionMode, values []string) string {
	if mode == models.RestrictionExclude {
		return "not " + strings.Join(values, ", ")
	}
	return strings.Join(values, ", ")
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(target)) {
			return true
		}
	}
	return false
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

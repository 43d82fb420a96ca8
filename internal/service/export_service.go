package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/course-eligibility-api/internal/models"
	"github.com/noah-isme/course-eligibility-api/pkg/export"
)

// Report formats accepted by ValidationService.Export.
const (
	FormatCSV = "csv"
	FormatPDF = "pdf"
)

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportFile is a rendered eligibility report ready for download.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

var reportHeaders = []string{"Kind", "Check", "Status", "Mandatory", "Satisfied", "Actual", "Required", "Detail"}

// validationReport flattens a result into a summary and one row per check and requirement.
func validationReport(result *models.PrerequisiteValidationResult) export.Dataset {
	data := export.Dataset{
		Summary: []export.Field{
			{Label: "Student", Value: result.StudentID},
			{Label: "Course", Value: result.CourseID},
			{Label: "Term", Value: result.TermID},
			{Label: "Status", Value: string(result.OverallStatus)},
			{Label: "Can enroll", Value: yesNo(result.CanEnroll)},
			{Label: "Version", Value: strconv.Itoa(result.Version)},
			{Label: "Evaluated as of", Value: result.AsOf.Format(time.RFC3339)},
			{Label: "Validated at", Value: result.ValidatedAt.Format(time.RFC3339)},
		},
		Headers: reportHeaders,
	}
	if reasons := result.FailureReasons(); len(reasons) > 0 {
		data.Summary = append(data.Summary, export.Field{Label: "Unmet", Value: strings.Join(reasons, "; ")})
	}
	for _, applied := range append(append([]models.AppliedException(nil), result.Overrides...), result.Waivers...) {
		data.Summary = append(data.Summary, export.Field{
			Label: strings.ToLower(string(applied.Kind)) + " " + applied.ID,
			Value: fmt.Sprintf("%s %s covers %s", applied.Scope, applied.TargetType, strings.Join(applied.Covered, ", ")),
		})
	}

	for _, check := range result.PrerequisiteChecks {
		data.Rows = append(data.Rows, map[string]string{
			"Kind":      "PREREQUISITE",
			"Check":     check.RuleName,
			"Status":    string(check.Status),
			"Mandatory": yesNo(check.IsMandatory),
			"Satisfied": yesNo(check.IsSatisfied),
			"Actual":    strconv.FormatFloat(check.SatisfactionPercentage, 'f', 0, 64) + "%",
			"Required":  string(check.LogicOperator),
			"Detail":    check.FailureReason,
		})
		data.Rows = append(data.Rows, requirementRows(check.Requirements)...)
	}
	for _, check := range result.CorequisiteChecks {
		data.Rows = append(data.Rows, map[string]string{
			"Kind":      "COREQUISITE",
			"Check":     check.RuleName,
			"Status":    string(check.Status),
			"Mandatory": yesNo(check.IsMandatory),
			"Satisfied": yesNo(check.IsSatisfied),
			"Actual":    strconv.FormatFloat(check.SatisfactionPercentage, 'f', 0, 64) + "%",
			"Required":  string(check.LogicOperator),
			"Detail":    check.FailureReason,
		})
		data.Rows = append(data.Rows, requirementRows(check.Requirements)...)
	}
	for _, check := range result.RestrictionChecks {
		data.Rows = append(data.Rows, map[string]string{
			"Kind":      "RESTRICTION",
			"Check":     string(check.Type),
			"Status":    string(check.Status),
			"Mandatory": yesNo(check.EnforcementLevel == models.EnforcementHard),
			"Satisfied": yesNo(!check.IsViolated),
			"Actual":    check.ActualValue,
			"Required":  check.RequiredValue,
			"Detail":    check.FailureReason,
		})
	}
	return data
}

func requirementRows(reqs []models.RequirementCheckResult) []map[string]string {
	rows := make([]map[string]string, 0, len(reqs))
	for _, req := range reqs {
		detail := req.FailureReason
		if req.SatisfiedBy != "" {
			detail = "satisfied by " + strings.ToLower(strings.ReplaceAll(string(req.SatisfiedBy), "_", " "))
		}
		if req.ConfigurationError != "" {
			detail = req.ConfigurationError
		}
		rows = append(rows, map[string]string{
			"Kind":      "  requirement",
			"Check":     string(req.Type),
			"Mandatory": yesNo(req.IsMandatory),
			"Satisfied": yesNo(req.IsSatisfied),
			"Actual":    req.ActualValue,
			"Required":  req.RequiredValue,
			"Detail":    detail,
		})
	}
	return rows
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func reportFilename(result *models.PrerequisiteValidationResult, format string) string {
	return fmt.Sprintf("eligibility_%s_%s_%s_v%d.%s", result.StudentID, result.CourseID, result.TermID, result.Version, format)
}

package service

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-eligibility-api/internal/models"
	appErrors "github.com/noah-isme/course-eligibility-api/pkg/errors"
)

type exceptionReader interface {
	ListForStudentCourse(ctx context.Context, studentID, courseID string) (*models.StudentExceptions, error)
}

// ExceptionResolver applies approved overrides and waivers to failing checks.
type ExceptionResolver struct {
	store  exceptionReader
	logger *zap.Logger
}

// NewExceptionResolver constructs the resolver.
func NewExceptionResolver(store exceptionReader, logger *zap.Logger) *ExceptionResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExceptionResolver{store: store, logger: logger}
}

// Apply returns a copy of checks with usable exceptions applied, plus the overrides
// and waivers that changed an outcome. Waivers are applied before overrides. Only
// failing checks are touched, so the adjustment never turns a pass into a failure.
func (r *ExceptionResolver) Apply(ctx context.Context, key models.ValidationKey, asOf time.Time, checks *CheckSet) (*CheckSet, []models.AppliedException, []models.AppliedException, error) {
	exceptions, err := r.store.ListForStudentCourse(ctx, key.StudentID, key.CourseID)
	if err != nil {
		return nil, nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load overrides and waivers")
	}

	adjusted := checks.clone()
	if exceptions == nil {
		return adjusted, nil, nil, nil
	}

	waivers := append([]models.PrerequisiteWaiver(nil), exceptions.Waivers...)
	sort.SliceStable(waivers, func(i, j int) bool {
		if !waivers[i].CreatedAt.Equal(waivers[j].CreatedAt) {
			return waivers[i].CreatedAt.Before(waivers[j].CreatedAt)
		}
		return waivers[i].ID < waivers[j].ID
	})
	overrides := append([]models.PrerequisiteOverride(nil), exceptions.Overrides...)
	sort.SliceStable(overrides, func(i, j int) bool {
		if !overrides[i].CreatedAt.Equal(overrides[j].CreatedAt) {
			return overrides[i].CreatedAt.Before(overrides[j].CreatedAt)
		}
		return overrides[i].ID < overrides[j].ID
	})

	var appliedWaivers, appliedOverrides []models.AppliedException
	for _, w := range waivers {
		if !waiverUsable(w, key.TermID, asOf) {
			r.logger.Debug("waiver not applicable", zap.String("waiver_id", w.ID), zap.String("status", string(w.Status)))
			continue
		}
		target := exceptionTarget{kind: models.ExceptionWaiver, id: w.ID, targetType: w.TargetType, targetID: w.TargetID, scope: w.Scope, conditions: w.Conditions}
		if applied, ok := adjusted.cover(target); ok {
			appliedWaivers = append(appliedWaivers, applied)
		}
	}
	for _, o := range overrides {
		if !overrideUsable(o, key.TermID, asOf) {
			r.logger.Debug("override not applicable", zap.String("override_id", o.ID), zap.String("status", string(o.Status)))
			continue
		}
		target := exceptionTarget{kind: models.ExceptionOverride, id: o.ID, targetType: o.TargetType, targetID: o.TargetID, scope: o.Scope, conditions: o.Conditions}
		if applied, ok := adjusted.cover(target); ok {
			appliedOverrides = append(appliedOverrides, applied)
		}
	}
	return adjusted, appliedOverrides, appliedWaivers, nil
}

// overrideUsable reports whether an override may bypass a check at asOf. A lapsed
// periodic review makes the override inapplicable until it is reviewed again.
func overrideUsable(o models.PrerequisiteOverride, termID string, asOf time.Time) bool {
	if o.Status != models.ExceptionApproved {
		return false
	}
	if !termMatches(o.TermID, termID) {
		return false
	}
	if asOf.Before(o.EffectiveFrom) {
		return false
	}
	if o.ExpiresAt != nil && !asOf.Before(*o.ExpiresAt) {
		return false
	}
	if o.RequiresPeriodicReview && (o.NextReviewDate == nil || asOf.After(*o.NextReviewDate)) {
		return false
	}
	return stepsApproved(o.Steps)
}

// stepsApproved requires every mandatory step approved and no step rejected.
func stepsApproved(steps []models.OverrideApprovalStep) bool {
	for _, step := range steps {
		if step.Status == models.StepRejected {
			return false
		}
		if step.IsMandatory && step.Status != models.StepApproved {
			return false
		}
	}
	return true
}

func waiverUsable(w models.PrerequisiteWaiver, termID string, asOf time.Time) bool {
	if w.Status != models.ExceptionApproved {
		return false
	}
	if !termMatches(w.TermID, termID) {
		return false
	}
	return w.ExpiresAt == nil || asOf.Before(*w.ExpiresAt)
}

func termMatches(scoped *string, termID string) bool {
	return scoped == nil || *scoped == "" || *scoped == termID
}

// exceptionTarget is the part of an override or waiver that decides what it covers.
type exceptionTarget struct {
	kind       models.ExceptionKind
	id         string
	targetType models.ExceptionTarget
	targetID   *string
	scope      models.ExceptionScope
	conditions []string
}

func (t exceptionTarget) source() models.SatisfactionSource {
	if t.kind == models.ExceptionWaiver {
		return models.SatisfiedByWaiver
	}
	return models.SatisfiedByOverride
}

func (t exceptionTarget) target() string {
	if t.targetID == nil {
		return ""
	}
	return *t.targetID
}

func (t exceptionTarget) partial() bool {
	return t.scope == models.ScopePartial
}

func (t exceptionTarget) names(id string) bool {
	for _, c := range t.conditions {
		if c == id {
			return true
		}
	}
	return false
}

// cover applies one exception and reports what it turned from failing to passing.
func (cs *CheckSet) cover(t exceptionTarget) (models.AppliedException, bool) {
	var covered []string
	pass := forcedPass{exceptionID: t.id, source: t.source()}

	switch t.targetType {
	case models.TargetPrerequisiteRule:
		ruleID := t.target()
		res, ok := cs.prerequisite(ruleID)
		if !ok || res.IsSatisfied {
			break
		}
		if t.partial() {
			covered = flipRequirements(cs.reqByRule[ruleID], t.names, t.id, pass.source)
		} else {
			cs.forced[ruleID] = pass
			covered = []string{ruleID}
		}
	case models.TargetPrerequisiteRequirement:
		reqID := t.target()
		for ruleID := range cs.reqByRule {
			flipped := flipRequirements(cs.reqByRule[ruleID], func(id string) bool { return id == reqID }, t.id, pass.source)
			covered = append(covered, flipped...)
		}
	case models.TargetAllPrerequisites:
		if t.partial() {
			for _, ruleID := range cs.tree.order() {
				covered = append(covered, flipRequirements(cs.reqByRule[ruleID], t.names, t.id, pass.source)...)
			}
			break
		}
		for _, res := range cs.Prerequisites {
			if !res.IsSatisfied {
				cs.forced[res.RuleID] = pass
				covered = append(covered, res.RuleID)
			}
		}
	case models.TargetCorequisiteRule:
		ruleID := t.target()
		res, ok := cs.corequisite(ruleID)
		if !ok || res.IsSatisfied {
			break
		}
		if t.partial() {
			covered = flipRequirements(cs.coByRule[ruleID], t.names, t.id, pass.source)
		} else {
			cs.coForced[ruleID] = pass
			covered = []string{ruleID}
		}
	case models.TargetRestriction:
		keep := func(id string) bool { return id == t.target() }
		if t.partial() {
			keep = t.names
		}
		for i := range cs.Restrictions {
			res := &cs.Restrictions[i]
			if !res.IsViolated || !keep(res.RestrictionID) {
				continue
			}
			res.IsViolated = false
			res.Status = statusFromSource(pass.source)
			exceptionID := t.id
			res.ExceptionID = &exceptionID
			covered = append(covered, res.RestrictionID)
		}
	}

	if len(covered) == 0 {
		return models.AppliedException{}, false
	}
	cs.recombine()
	sort.Strings(covered)
	return models.AppliedException{
		ID:         t.id,
		Kind:       t.kind,
		TargetType: t.targetType,
		TargetID:   t.target(),
		Scope:      t.scope,
		Covered:    covered,
	}, true
}

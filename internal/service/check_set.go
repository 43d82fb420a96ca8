package service

import (
	"github.com/noah-isme/course-eligibility-api/internal/models"
)

// CheckSet holds the evaluated and combined checks of one validation. Combined
// results are always derivable from the requirement results plus forced rule
// passes, so exception resolution can flip requirements and recombine.
type CheckSet struct {
	tree      *ruleTree
	coreqs    []models.CorequisiteRule
	forced    map[string]forcedPass
	coForced  map[string]forcedPass
	reqByRule map[string][]models.RequirementCheckResult
	coByRule  map[string][]models.RequirementCheckResult

	Prerequisites []models.PrerequisiteCheckResult
	Corequisites  []models.CorequisiteCheckResult
	Restrictions  []models.RestrictionCheckResult
}

func newCheckSet(tree *ruleTree, coreqs []models.CorequisiteRule, reqByRule, coByRule map[string][]models.RequirementCheckResult, restrictions []models.RestrictionCheckResult) *CheckSet {
	cs := &CheckSet{
		tree:         tree,
		coreqs:       coreqs,
		forced:       make(map[string]forcedPass),
		coForced:     make(map[string]forcedPass),
		reqByRule:    reqByRule,
		coByRule:     coByRule,
		Restrictions: restrictions,
	}
	cs.recombine()
	return cs
}

// recombine recomputes rule results from requirement results and forced passes.
func (cs *CheckSet) recombine() {
	cs.Prerequisites = cs.tree.combineAll(cs.reqByRule, cs.forced)
	cs.Corequisites = make([]models.CorequisiteCheckResult, 0, len(cs.coreqs))
	for _, rule := range cs.coreqs {
		var forced *forcedPass
		if f, ok := cs.coForced[rule.ID]; ok {
			forced = &f
		}
		cs.Corequisites = append(cs.Corequisites, combineCorequisite(rule, cs.coByRule[rule.ID], forced))
	}
}

// clone deep-copies the mutable parts so adjustments never alter the input.
func (cs *CheckSet) clone() *CheckSet {
	out := &CheckSet{
		tree:      cs.tree,
		coreqs:    cs.coreqs,
		forced:    make(map[string]forcedPass, len(cs.forced)),
		coForced:  make(map[string]forcedPass, len(cs.coForced)),
		reqByRule: cloneRequirementMap(cs.reqByRule),
		coByRule:  cloneRequirementMap(cs.coByRule),
	}
	for k, v := range cs.forced {
		out.forced[k] = v
	}
	for k, v := range cs.coForced {
		out.coForced[k] = v
	}
	out.Restrictions = append([]models.RestrictionCheckResult(nil), cs.Restrictions...)
	out.recombine()
	return out
}

func cloneRequirementMap(in map[string][]models.RequirementCheckResult) map[string][]models.RequirementCheckResult {
	out := make(map[string][]models.RequirementCheckResult, len(in))
	for k, v := range in {
		out[k] = append([]models.RequirementCheckResult(nil), v...)
	}
	return out
}

// prerequisite returns the combined result of a rule.
func (cs *CheckSet) prerequisite(ruleID string) (models.PrerequisiteCheckResult, bool) {
	for _, res := range cs.Prerequisites {
		if res.RuleID == ruleID {
			return res, true
		}
	}
	return models.PrerequisiteCheckResult{}, false
}

// corequisite returns the combined result of a corequisite rule.
func (cs *CheckSet) corequisite(ruleID string) (models.CorequisiteCheckResult, bool) {
	for _, res := range cs.Corequisites {
		if res.RuleID == ruleID {
			return res, true
		}
	}
	return models.CorequisiteCheckResult{}, false
}

// flipRequirements marks failing requirements matched by keep as satisfied by the exception.
func flipRequirements(results []models.RequirementCheckResult, keep func(id string) bool, exceptionID string, source models.SatisfactionSource) []string {
	var flipped []string
	for i := range results {
		if results[i].IsSatisfied || !keep(results[i].RequirementID) {
			continue
		}
		results[i].IsSatisfied = true
		results[i].SatisfiedBy = source
		results[i].ExceptionID = exceptionID
		results[i].FailureReason = ""
		flipped = append(flipped, results[i].RequirementID)
	}
	return flipped
}

// SetupIssues gathers configuration problems for rule administrators.
func (cs *CheckSet) SetupIssues() []models.SetupIssue {
	issues := cs.tree.issues()
	seen := make(map[string]bool, len(issues))
	for _, issue := range issues {
		seen[issue.RuleID] = true
	}
	for _, res := range cs.Prerequisites {
		for _, req := range res.Requirements {
			if req.ConfigurationError != "" {
				issues = append(issues, models.SetupIssue{RuleID: res.RuleID, RequirementID: req.RequirementID, Message: req.ConfigurationError})
			}
		}
		if res.Status == models.CheckConfigurationError && !seen[res.RuleID] && !hasRequirementIssue(res.Requirements) {
			issues = append(issues, models.SetupIssue{RuleID: res.RuleID, Message: "rule " + res.RuleID + ": invalid operator configuration (" + string(res.LogicOperator) + ")"})
		}
	}
	for _, res := range cs.Corequisites {
		for _, req := range res.Requirements {
			if req.ConfigurationError != "" {
				issues = append(issues, models.SetupIssue{RuleID: res.RuleID, RequirementID: req.RequirementID, Message: req.ConfigurationError})
			}
		}
		if res.Status == models.CheckConfigurationError && !hasRequirementIssue(res.Requirements) {
			issues = append(issues, models.SetupIssue{RuleID: res.RuleID, Message: "corequisite rule " + res.RuleID + ": invalid operator configuration (" + string(res.LogicOperator) + ")"})
		}
	}
	for _, res := range cs.Restrictions {
		if res.Status == models.CheckConfigurationError {
			issues = append(issues, models.SetupIssue{RuleID: res.RestrictionID, Message: res.FailureReason})
		}
	}
	return issues
}

func hasRequirementIssue(reqs []models.RequirementCheckResult) bool {
	for _, req := range reqs {
		if req.ConfigurationError != "" {
			return true
		}
	}
	return false
}

// Gate summarises what the checks mean for enrollment.
type Gate struct {
	Blocked      bool
	ConfigError  bool
	Warnings     bool
	Exceptions   bool
	FailedChecks int
}

// Gate evaluates the enrollment gate over top-level prerequisite rules, corequisite
// rules and restrictions. A configuration error anywhere blocks enrollment, even on
// optional rules.
func (cs *CheckSet) Gate() Gate {
	var g Gate
	for _, res := range cs.Prerequisites {
		if res.Status == models.CheckConfigurationError {
			g.ConfigError = true
		}
		if !cs.tree.isRoot(res.RuleID) {
			continue
		}
		if res.Status == models.CheckOverridden || res.Status == models.CheckWaived {
			g.Exceptions = true
		}
		if res.Status == models.CheckConfigurationError || (res.IsMandatory && !res.IsSatisfied) {
			g.FailedChecks++
		}
	}
	for _, res := range cs.Corequisites {
		if res.Status == models.CheckOverridden || res.Status == models.CheckWaived {
			g.Exceptions = true
		}
		if res.Status == models.CheckConfigurationError {
			g.ConfigError = true
			g.FailedChecks++
			continue
		}
		if res.IsMandatory && !res.IsSatisfied {
			g.FailedChecks++
		}
	}
	for _, res := range cs.Restrictions {
		switch res.Status {
		case models.CheckOverridden, models.CheckWaived:
			g.Exceptions = true
		case models.CheckWarning:
			g.Warnings = true
		case models.CheckViolated:
			g.FailedChecks++
		case models.CheckConfigurationError:
			g.FailedChecks++
			g.ConfigError = true
		}
	}
	g.Blocked = g.FailedChecks > 0 || g.ConfigError
	return g
}

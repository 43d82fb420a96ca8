package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/noah-isme/course-eligibility-api/internal/models"
)

// operand is one input to a logic operator: a requirement or a child rule.
type operand struct {
	satisfied   bool
	mandatory   bool
	configError string
	source      models.SatisfactionSource
	reason      string
}

// combination is the outcome of applying an operator to its operands.
type combination struct {
	satisfied   bool
	percentage  float64
	configError string
	reason      string
	source      models.SatisfactionSource
}

// combine applies op over operands. AND requires every mandatory operand, OR any
// operand, N_OF at least minimum operands. Any unsatisfied operand carrying a
// configuration error poisons the result, mandatory or not.
func combine(op models.LogicOperator, minimum int, operands []operand) combination {
	for _, o := range operands {
		if !o.satisfied && o.configError != "" {
			return combination{configError: o.configError, reason: "rule is misconfigured; contact the registrar"}
		}
	}

	var (
		out          combination
		satisfied    int
		mandatory    int
		mandatorySat int
		failing      []string
	)
	for _, o := range operands {
		if o.satisfied {
			satisfied++
			if out.source == "" && (o.source == models.SatisfiedByOverride || o.source == models.SatisfiedByWaiver) {
				out.source = o.source
			}
		}
		if o.mandatory {
			mandatory++
			if o.satisfied {
				mandatorySat++
			}
		}
		if !o.satisfied && o.reason != "" && (op != models.LogicAnd || o.mandatory) {
			failing = append(failing, o.reason)
		}
	}

	switch op {
	case models.LogicAnd:
		out.satisfied = mandatorySat == mandatory
		out.percentage = percentage(mandatorySat, mandatory)
		out.reason = strings.Join(failing, "; ")
	case models.LogicOr:
		out.satisfied = len(operands) == 0 || satisfied > 0
		if out.satisfied {
			out.percentage = 100
		}
		if !out.satisfied {
			out.reason = "satisfy one of: " + strings.Join(failing, " OR ")
		}
	case models.LogicNOf:
		if minimum <= 0 {
			return combination{configError: fmt.Sprintf("N_OF operator requires a positive minimum, got %d", minimum), reason: "rule is misconfigured; contact the registrar"}
		}
		if minimum > len(operands) {
			return combination{configError: fmt.Sprintf("N_OF operator requires %d of only %d operands", minimum, len(operands)), reason: "rule is misconfigured; contact the registrar"}
		}
		out.satisfied = satisfied >= minimum
		capped := satisfied
		if capped > minimum {
			capped = minimum
		}
		out.percentage = percentage(capped, minimum)
		if !out.satisfied {
			out.reason = fmt.Sprintf("satisfy at least %d of: %s", minimum, strings.Join(failing, "; "))
		}
	default:
		return combination{configError: fmt.Sprintf("unknown logic operator %q", op), reason: "rule is misconfigured; contact the registrar"}
	}
	if out.satisfied {
		out.reason = ""
	} else {
		out.source = ""
	}
	return out
}

func percentage(satisfied, required int) float64 {
	if required == 0 {
		return 100
	}
	return float64(satisfied) / float64(required) * 100
}

func requirementOperands(results []models.RequirementCheckResult) []operand {
	ops := make([]operand, 0, len(results))
	for _, r := range results {
		ops = append(ops, operand{
			satisfied:   r.IsSatisfied,
			mandatory:   r.IsMandatory,
			configError: r.ConfigurationError,
			source:      r.SatisfiedBy,
			reason:      r.FailureReason,
		})
	}
	return ops
}

// CombineRule combines the requirement results of a single rule, ignoring any
// parent/child grouping.
func CombineRule(rule models.PrerequisiteRule, results []models.RequirementCheckResult) models.PrerequisiteCheckResult {
	standalone := rule
	standalone.ParentRuleID = nil
	tree := newRuleTree([]models.PrerequisiteRule{standalone})
	res := tree.combineAll(map[string][]models.RequirementCheckResult{rule.ID: results}, nil)[0]
	res.ParentRuleID = rule.ParentRuleID
	return res
}

// forcedPass marks a rule satisfied by a complete override or waiver.
type forcedPass struct {
	exceptionID string
	source      models.SatisfactionSource
}

// ruleNode is one arena entry of the prerequisite rule tree.
type ruleNode struct {
	rule     models.PrerequisiteRule
	children []string
	issue    string
}

// ruleTree resolves ParentRuleID grouping into an explicit arena of nodes keyed by
// rule id. Roots are rules without a (valid) parent, ordered by priority.
type ruleTree struct {
	nodes map[string]*ruleNode
	roots []string
}

func newRuleTree(rules []models.PrerequisiteRule) *ruleTree {
	t := &ruleTree{nodes: make(map[string]*ruleNode, len(rules))}
	for _, rule := range rules {
		t.nodes[rule.ID] = &ruleNode{rule: rule}
	}

	cyclic := make(map[string]bool)
	for id := range t.nodes {
		if t.parentChainLoops(id) {
			cyclic[id] = true
		}
	}

	for id, node := range t.nodes {
		parentID := node.rule.ParentRuleID
		switch {
		case cyclic[id]:
			node.issue = fmt.Sprintf("rule %s: parent chain is circular", id)
			t.roots = append(t.roots, id)
		case parentID == nil || *parentID == "":
			t.roots = append(t.roots, id)
		case t.nodes[*parentID] == nil:
			node.issue = fmt.Sprintf("rule %s: parent rule %s is missing or inactive", id, *parentID)
			t.roots = append(t.roots, id)
		default:
			parent := t.nodes[*parentID]
			parent.children = append(parent.children, id)
		}
	}

	t.sortIDs(t.roots)
	for _, node := range t.nodes {
		t.sortIDs(node.children)
	}
	return t
}

// parentChainLoops reports whether walking parents from id revisits a rule.
func (t *ruleTree) parentChainLoops(id string) bool {
	seen := map[string]bool{id: true}
	current := t.nodes[id]
	for current != nil && current.rule.ParentRuleID != nil {
		next := *current.rule.ParentRuleID
		if seen[next] {
			return true
		}
		seen[next] = true
		current = t.nodes[next]
	}
	return false
}

func (t *ruleTree) sortIDs(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := t.nodes[ids[i]].rule, t.nodes[ids[j]].rule
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.ID < b.ID
	})
}

// isRoot reports whether the rule gates enrollment directly.
func (t *ruleTree) isRoot(id string) bool {
	for _, root := range t.roots {
		if root == id {
			return true
		}
	}
	return false
}

// issues lists structural configuration problems of the tree.
func (t *ruleTree) issues() []models.SetupIssue {
	var out []models.SetupIssue
	for _, id := range t.order() {
		if node := t.nodes[id]; node.issue != "" {
			out = append(out, models.SetupIssue{RuleID: id, Message: node.issue})
		}
	}
	return out
}

// order returns rule ids in pre-order: each root by priority followed by its descendants.
func (t *ruleTree) order() []string {
	out := make([]string, 0, len(t.nodes))
	var walk func(id string)
	walk = func(id string) {
		out = append(out, id)
		for _, child := range t.nodes[id].children {
			walk(child)
		}
	}
	for _, root := range t.roots {
		walk(root)
	}
	return out
}

// combineAll evaluates every rule bottom-up. A parent's operands are its own
// requirements followed by its children's aggregate results.
func (t *ruleTree) combineAll(requirements map[string][]models.RequirementCheckResult, forced map[string]forcedPass) []models.PrerequisiteCheckResult {
	results := make(map[string]models.PrerequisiteCheckResult, len(t.nodes))
	var eval func(id string) models.PrerequisiteCheckResult
	eval = func(id string) models.PrerequisiteCheckResult {
		if res, ok := results[id]; ok {
			return res
		}
		node := t.nodes[id]
		ops := requirementOperands(requirements[id])
		for _, childID := range node.children {
			child := eval(childID)
			childErr := ""
			if child.Status == models.CheckConfigurationError {
				childErr = "child rule " + childID + " is misconfigured"
			}
			ops = append(ops, operand{
				satisfied:   child.IsSatisfied,
				mandatory:   child.IsMandatory,
				configError: childErr,
				source:      sourceFromStatus(child.Status),
				reason:      child.FailureReason,
			})
		}

		res := models.PrerequisiteCheckResult{
			RuleID:        node.rule.ID,
			RuleName:      node.rule.Name,
			ParentRuleID:  node.rule.ParentRuleID,
			Priority:      node.rule.Priority,
			LogicOperator: node.rule.LogicOperator,
			IsMandatory:   node.rule.IsMandatory,
			Requirements:  append([]models.RequirementCheckResult(nil), requirements[id]...),
		}
		var c combination
		if node.issue != "" {
			c = combination{configError: node.issue, reason: "rule is misconfigured; contact the registrar"}
		} else {
			c = combine(node.rule.LogicOperator, node.rule.MinimumSatisfied, ops)
		}
		applyCombination(&res.IsSatisfied, &res.Status, &res.SatisfactionPercentage, &res.FailureReason, c)

		if f, ok := forced[id]; ok && !res.IsSatisfied {
			res.IsSatisfied = true
			res.Status = statusFromSource(f.source)
			res.FailureReason = ""
			exceptionID := f.exceptionID
			res.ExceptionID = &exceptionID
		}
		results[id] = res
		return res
	}

	ordered := t.order()
	out := make([]models.PrerequisiteCheckResult, 0, len(ordered))
	for _, id := range ordered {
		out = append(out, eval(id))
	}
	return out
}

// combineCorequisite evaluates one corequisite rule.
func combineCorequisite(rule models.CorequisiteRule, requirements []models.RequirementCheckResult, forced *forcedPass) models.CorequisiteCheckResult {
	res := models.CorequisiteCheckResult{
		RuleID:        rule.ID,
		RuleName:      rule.Name,
		LogicOperator: rule.LogicOperator,
		IsMandatory:   rule.IsMandatory,
		Requirements:  append([]models.RequirementCheckResult(nil), requirements...),
	}
	c := combine(rule.LogicOperator, rule.MinimumSatisfied, requirementOperands(requirements))
	applyCombination(&res.IsSatisfied, &res.Status, &res.SatisfactionPercentage, &res.FailureReason, c)
	if forced != nil && !res.IsSatisfied {
		res.IsSatisfied = true
		res.Status = statusFromSource(forced.source)
		res.FailureReason = ""
		exceptionID := forced.exceptionID
		res.ExceptionID = &exceptionID
	}
	return res
}

func applyCombination(satisfied *bool, status *models.CheckStatus, pct *float64, reason *string, c combination) {
	*satisfied = c.satisfied
	*pct = c.percentage
	*reason = c.reason
	switch {
	case c.configError != "":
		*status = models.CheckConfigurationError
	case !c.satisfied:
		*status = models.CheckNotSatisfied
	case c.source != "":
		*status = statusFromSource(c.source)
	default:
		*status = models.CheckSatisfied
	}
}

func statusFromSource(source models.SatisfactionSource) models.CheckStatus {
	switch source {
	case models.SatisfiedByWaiver:
		return models.CheckWaived
	case models.SatisfiedByOverride:
		return models.CheckOverridden
	default:
		return models.CheckSatisfied
	}
}

func sourceFromStatus(status models.CheckStatus) models.SatisfactionSource {
	switch status {
	case models.CheckWaived:
		return models.SatisfiedByWaiver
	case models.CheckOverridden:
		return models.SatisfiedByOverride
	default:
		return ""
	}
}

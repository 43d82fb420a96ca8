package service

import (
	"context"
	"sort"
	"time"

	"github.com/noah-isme/course-eligibility-api/internal/models"
	appErrors "github.com/noah-isme/course-eligibility-api/pkg/errors"
)

type courseGraphReader interface {
	ListPrerequisiteEdges(ctx context.Context) ([]models.CourseEdge, error)
}

// DependencyDetector finds prerequisite chains that loop back on themselves.
type DependencyDetector struct {
	graph courseGraphReader
	now   func() time.Time
}

// NewDependencyDetector constructs a detector reading the active prerequisite graph.
func NewDependencyDetector(graph courseGraphReader) *DependencyDetector {
	return &DependencyDetector{graph: graph, now: time.Now}
}

// Detect inspects the prerequisite chain of courseID. The membership reported is
// the same whichever course of a cycle detection starts from.
func (d *DependencyDetector) Detect(ctx context.Context, courseID string) (*models.CircularDependencyResult, error) {
	g, err := d.load(ctx)
	if err != nil {
		return nil, err
	}
	return g.detect(courseID, d.now().UTC()), nil
}

// DetectAll inspects every course present in the prerequisite graph from one snapshot.
func (d *DependencyDetector) DetectAll(ctx context.Context) ([]models.CircularDependencyResult, error) {
	g, err := d.load(ctx)
	if err != nil {
		return nil, err
	}
	now := d.now().UTC()
	results := make([]models.CircularDependencyResult, 0, len(g.codes))
	for _, id := range g.sortedNodes() {
		results = append(results, *g.detect(id, now))
	}
	return results, nil
}

// WouldCreateCycle reports the cycle that adding "courseID requires requiredCourseID"
// would close. The returned result has HasCircularDependency false when the edge is safe.
func (d *DependencyDetector) WouldCreateCycle(ctx context.Context, courseID, requiredCourseID string) (*models.CircularDependencyResult, error) {
	g, err := d.load(ctx)
	if err != nil {
		return nil, err
	}
	now := d.now().UTC()
	if courseID != requiredCourseID && !g.reachable(requiredCourseID)[courseID] {
		return &models.CircularDependencyResult{CourseID: courseID, Severity: models.SeverityNone, DetectionDate: now}, nil
	}
	g.addEdge(courseID, requiredCourseID)
	return g.detect(courseID, now), nil
}

func (d *DependencyDetector) load(ctx context.Context) (*courseGraph, error) {
	edges, err := d.graph.ListPrerequisiteEdges(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisite graph")
	}
	return newCourseGraph(edges), nil
}

// courseGraph is the prerequisite graph keyed by course id. requires[x] lists the
// courses x requires; dependents is the reverse relation.
type courseGraph struct {
	codes      map[string]string
	requires   map[string][]string
	dependents map[string][]string
}

func newCourseGraph(edges []models.CourseEdge) *courseGraph {
	g := &courseGraph{
		codes:      make(map[string]string),
		requires:   make(map[string][]string),
		dependents: make(map[string][]string),
	}
	for _, e := range edges {
		g.setCode(e.CourseID, e.CourseCode)
		g.setCode(e.RequiredCourseID, e.RequiredCourseCode)
		g.addEdge(e.CourseID, e.RequiredCourseID)
	}
	return g
}

func (g *courseGraph) setCode(id, code string) {
	if code == "" {
		if _, ok := g.codes[id]; !ok {
			g.codes[id] = id
		}
		return
	}
	g.codes[id] = code
}

func (g *courseGraph) code(id string) string {
	if code, ok := g.codes[id]; ok {
		return code
	}
	return id
}

func (g *courseGraph) addEdge(from, to string) {
	if _, ok := g.codes[from]; !ok {
		g.codes[from] = from
	}
	if _, ok := g.codes[to]; !ok {
		g.codes[to] = to
	}
	for _, existing := range g.requires[from] {
		if existing == to {
			return
		}
	}
	g.requires[from] = insertByCode(g, g.requires[from], to)
	g.dependents[to] = insertByCode(g, g.dependents[to], from)
}

func insertByCode(g *courseGraph, ids []string, id string) []string {
	ids = append(ids, id)
	sort.SliceStable(ids, func(i, j int) bool { return g.less(ids[i], ids[j]) })
	return ids
}

func (g *courseGraph) less(a, b string) bool {
	ca, cb := g.code(a), g.code(b)
	if ca != cb {
		return ca < cb
	}
	return a < b
}

func (g *courseGraph) sortedNodes() []string {
	ids := make([]string, 0, len(g.codes))
	for id := range g.codes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return g.less(ids[i], ids[j]) })
	return ids
}

// reachable returns every course on the prerequisite chain of start, start included.
func (g *courseGraph) reachable(start string) map[string]bool {
	seen := map[string]bool{start: true}
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range g.requires[id] {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return seen
}

// cycles returns the strongly connected components reachable from start that
// contain a cycle, each sorted by code, ordered by their smallest code. Tarjan's
// algorithm: a back edge to a course still on the visitation stack closes a cycle.
func (g *courseGraph) cycles(start string) [][]string {
	var (
		index   int
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		stack   []string
		out     [][]string
	)

	var strongConnect func(v string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.requires[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] && indices[w] < lowlink[v] {
				lowlink[v] = indices[w]
			}
		}

		if lowlink[v] != indices[v] {
			return
		}
		var component []string
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			component = append(component, w)
			if w == v {
				break
			}
		}
		if len(component) > 1 || g.selfLoop(v) {
			sort.Slice(component, func(i, j int) bool { return g.less(component[i], component[j]) })
			out = append(out, component)
		}
	}
	strongConnect(start)

	sort.Slice(out, func(i, j int) bool { return g.less(out[i][0], out[j][0]) })
	return out
}

func (g *courseGraph) selfLoop(id string) bool {
	for _, next := range g.requires[id] {
		if next == id {
			return true
		}
	}
	return false
}

// cyclePath walks one cycle inside component starting at its smallest course and
// returns the codes, closed by repeating the first.
func (g *courseGraph) cyclePath(component []string) []string {
	members := make(map[string]bool, len(component))
	for _, id := range component {
		members[id] = true
	}
	start := component[0]
	visited := map[string]bool{}
	var path []string
	var walk func(id string) bool
	walk = func(id string) bool {
		path = append(path, id)
		visited[id] = true
		for _, next := range g.requires[id] {
			if next == start {
				return true
			}
			if members[next] && !visited[next] && walk(next) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}
	walk(start)

	codes := make([]string, 0, len(path)+1)
	for _, id := range path {
		codes = append(codes, g.code(id))
	}
	return append(codes, g.code(start))
}

// dependentCount counts courses outside involved whose chain passes through it.
func (g *courseGraph) dependentCount(involved map[string]bool) int {
	seen := make(map[string]bool)
	var stack []string
	for id := range involved {
		stack = append(stack, id)
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, dep := range g.dependents[id] {
			if involved[dep] || seen[dep] {
				continue
			}
			seen[dep] = true
			stack = append(stack, dep)
		}
	}
	return len(seen)
}

func (g *courseGraph) detect(courseID string, now time.Time) *models.CircularDependencyResult {
	result := &models.CircularDependencyResult{
		CourseID:        courseID,
		Severity:        models.SeverityNone,
		DetectionDate:   now,
		DependencyPath:  []string{},
		InvolvedCourses: []string{},
	}
	components := g.cycles(courseID)
	if len(components) == 0 {
		return result
	}

	involved := make(map[string]bool)
	primary := components[0]
	for _, component := range components {
		for _, id := range component {
			involved[id] = true
			if id == courseID {
				primary = component
			}
		}
	}
	codes := make([]string, 0, len(involved))
	for id := range involved {
		codes = append(codes, g.code(id))
	}
	sort.Strings(codes)

	result.HasCircularDependency = true
	result.InvolvedCourses = codes
	result.DependencyPath = g.cyclePath(primary)
	result.Severity = cycleSeverity(len(result.DependencyPath)-1, g.dependentCount(involved))
	return result
}

// cycleSeverity grades a cycle by its length and the number of courses depending on it.
func cycleSeverity(length, dependents int) models.DependencySeverity {
	switch {
	case length >= 5 || dependents >= 10:
		return models.SeverityCritical
	case length >= 4 || dependents >= 5:
		return models.SeverityHigh
	case length >= 3 || dependents >= 1:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

package coordinator

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Report types
// --------------------------------------------------------------------------

// Waiter is a goroutine that has been waiting for a lock longer than the wait threshold
type Waiter struct {
	Goroutine  GoroutineID
	WaitingFor time.Duration
}

// Contention describes one held lock with registered waiters
type Contention struct {
	Lock    LockID
	Name    string
	Holder  GoroutineID
	HeldFor time.Duration
	Waiters []Waiter // ordered by goroutine id
}

func (c Contention) String() string {
	waiters := make([]string, len(c.Waiters))
	for i, w := range c.Waiters {
		waiters[i] = fmt.Sprintf("g%d (%s)", w.Goroutine, w.WaitingFor.Round(time.Millisecond))
	}
	return fmt.Sprintf("lock %s held by g%d for %s, waiting: %s",
		label(c.Lock, c.Name), c.Holder, c.HeldFor.Round(time.Millisecond), strings.Join(waiters, ", "))
}

// Edge of the wait-for graph: Waiter waits for Lock which is held by Holder
type Edge struct {
	Waiter GoroutineID
	Lock   LockID
	Holder GoroutineID
}

// Cycle is a closed chain of wait-for edges, a deadlock.
// The first edge starts at the smallest goroutine id of the cycle.
type Cycle struct {
	Edges []Edge
}

// Locks returns the ids of the locks involved in the cycle
func (cy Cycle) Locks() []LockID {
	ids := make([]LockID, len(cy.Edges))
	for i, e := range cy.Edges {
		ids[i] = e.Lock
	}
	return ids
}

func (cy Cycle) key() string {
	var sb strings.Builder
	for _, e := range cy.Edges {
		fmt.Fprintf(&sb, "%d:%d>", e.Waiter, e.Lock)
	}
	return sb.String()
}

func (cy Cycle) String() string {
	var sb strings.Builder
	for _, e := range cy.Edges {
		fmt.Fprintf(&sb, "g%d -[%s]-> ", e.Waiter, e.Lock)
	}
	if len(cy.Edges) > 0 {
		fmt.Fprintf(&sb, "g%d", cy.Edges[0].Waiter)
	}
	return sb.String()
}

// Report is the result of one analysis pass
type Report struct {
	At        time.Time
	Contended []Contention // ordered by lock id
	Cycles    []Cycle
}

// Empty reports whether the analysis found nothing
func (r Report) Empty() bool {
	return len(r.Contended) == 0 && len(r.Cycles) == 0
}

func (r Report) String() string {
	if r.Empty() {
		return "no contention"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d contended lock(s), %d cycle(s)", len(r.Contended), len(r.Cycles))
	for _, c := range r.Contended {
		sb.WriteString("\n  ")
		sb.WriteString(c.String())
	}
	for _, cy := range r.Cycles {
		sb.WriteString("\n  deadlock: ")
		sb.WriteString(cy.String())
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// Analysis
// --------------------------------------------------------------------------

// Analyse inspects the whole table through an open access of this coordinator and returns
// the contended locks and wait-for cycles. It does one bounded pass and takes no other lock.
//
// The report is also queued for the sinks when the access is closed, unless the
// dispatch rate limit suppresses it.
func (c *Coordinator) Analyse(access *TableAccess) Report {
	if access == nil || access.c != c || access.closed {
		panic("coordinator: Analyse requires an open TableAccess of the same coordinator")
	}
	c.metrics.analyses.Inc()

	now := time.Now()
	report := c.buildReport(now)

	if c.shouldDispatch(report, now) {
		access.pending = &report
	}
	return report
}

// buildReport collects contention and cycles. Caller holds mu.
func (c *Coordinator) buildReport(now time.Time) Report {
	report := Report{At: now}
	graph := make(map[GoroutineID][]Edge)

	for _, id := range c.sortedIDs() {
		st := c.locks[id]
		if st.status != StatusHeld || len(st.waiters) == 0 {
			continue
		}

		contention := Contention{
			Lock:    id,
			Name:    st.name,
			Holder:  st.holder,
			HeldFor: now.Sub(st.heldSince),
			Waiters: make([]Waiter, 0, len(st.waiters)),
		}
		for g, since := range st.waiters {
			contention.Waiters = append(contention.Waiters, Waiter{Goroutine: g, WaitingFor: now.Sub(since)})
			if st.holder != 0 {
				graph[g] = append(graph[g], Edge{Waiter: g, Lock: id, Holder: st.holder})
			}
		}
		sort.Slice(contention.Waiters, func(i, j int) bool {
			return contention.Waiters[i].Goroutine < contention.Waiters[j].Goroutine
		})
		report.Contended = append(report.Contended, contention)
	}

	report.Cycles = findCycles(graph)
	return report
}

// shouldDispatch applies the rate limit. Caller holds mu.
func (c *Coordinator) shouldDispatch(r Report, now time.Time) bool {
	if r.Empty() {
		return false
	}

	newCycle := false
	for _, cy := range r.Cycles {
		if _, seen := c.lastCycles[cy.key()]; !seen {
			newCycle = true
			break
		}
	}

	if !newCycle && !c.lastReport.IsZero() && now.Sub(c.lastReport) < c.opts.ReportInterval {
		return false
	}

	c.lastReport = now
	c.lastCycles = make(map[string]struct{}, len(r.Cycles))
	for _, cy := range r.Cycles {
		c.lastCycles[cy.key()] = struct{}{}
	}
	return true
}

// findCycles returns the cycles closed by back edges of a depth first search over the
// wait-for graph, each exactly once. Every node and edge is visited at most once.
// A spinning goroutine waits for one lock at a time, so nodes have at most one
// outgoing edge and this finds every cycle.
func findCycles(graph map[GoroutineID][]Edge) []Cycle {
	const (
		unvisited = iota
		onStack
		done
	)

	nodes := make([]GoroutineID, 0, len(graph))
	for g, edges := range graph {
		nodes = append(nodes, g)
		sort.Slice(edges, func(i, j int) bool { return edges[i].Lock < edges[j].Lock })
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	color := make(map[GoroutineID]int, len(nodes))
	var path []Edge
	var cycles []Cycle
	seen := make(map[string]struct{})

	var visit func(g GoroutineID)
	visit = func(g GoroutineID) {
		color[g] = onStack
		for _, e := range graph[g] {
			switch color[e.Holder] {
			case unvisited:
				path = append(path, e)
				visit(e.Holder)
				path = path[:len(path)-1]
			case onStack:
				// back edge: the cycle is the path suffix starting at e.Holder, closed by e
				edges := []Edge{e}
				if e.Waiter != e.Holder {
					i := len(path) - 1
					for path[i].Waiter != e.Holder {
						i--
					}
					edges = append(append([]Edge(nil), path[i:]...), e)
				}
				cy := normalizeCycle(edges)
				if _, dup := seen[cy.key()]; !dup {
					seen[cy.key()] = struct{}{}
					cycles = append(cycles, cy)
				}
			}
		}
		color[g] = done
	}

	for _, g := range nodes {
		if color[g] == unvisited {
			visit(g)
		}
	}
	return cycles
}

// normalizeCycle rotates the edges so that the cycle starts at its smallest waiter
func normalizeCycle(edges []Edge) Cycle {
	min := 0
	for i, e := range edges {
		if e.Waiter < edges[min].Waiter {
			min = i
		}
	}
	rotated := make([]Edge, 0, len(edges))
	rotated = append(rotated, edges[min:]...)
	rotated = append(rotated, edges[:min]...)
	return Cycle{Edges: rotated}
}

package coordinator

import (
	"strings"
	"testing"
	"time"
)

// hold marks id as held by owner and lets waiters wait for it
func hold(t *testing.T, access *TableAccess, id LockID, owner GoroutineID, waiters ...GoroutineID) {
	t.Helper()
	if ok, err := access.TryLock(id, owner); err != nil || !ok {
		t.Fatalf("TryLock(%s, %d) = (%v,%v)", id, owner, ok, err)
	}
	for _, w := range waiters {
		if err := access.Subscribe(id, w, time.Now().Add(-2*time.Second)); err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}
}

func TestAnalyseEmptyTable(t *testing.T) {
	c, reports := newTestCoordinator(t, -1)
	c.Register("idle")

	access := c.BeginAccess()
	r := c.Analyse(access)
	access.Close()

	if !r.Empty() {
		t.Errorf("Expected empty report, got %s", r)
	}
	select {
	case r := <-reports:
		t.Errorf("Empty reports must not be dispatched, got %s", r)
	case <-time.After(20 * time.Millisecond):
	}
	if c.Stats().Analyses != 1 {
		t.Errorf("Expected 1 analysis, got %d", c.Stats().Analyses)
	}
}

func TestAnalyseContention(t *testing.T) {
	c, reports := newTestCoordinator(t, -1)
	a := c.Register("a")
	b := c.Register("b") // held without waiters, not reported

	access := c.BeginAccess()
	hold(t, access, a, 10, 12, 11)
	hold(t, access, b, 20)
	r := c.Analyse(access)
	access.Close()

	if len(r.Contended) != 1 {
		t.Fatalf("Expected 1 contended lock, got %d", len(r.Contended))
	}
	con := r.Contended[0]
	if con.Lock != a || con.Name != "a" || con.Holder != 10 {
		t.Errorf("Unexpected contention %+v", con)
	}
	if len(con.Waiters) != 2 || con.Waiters[0].Goroutine != 11 || con.Waiters[1].Goroutine != 12 {
		t.Errorf("Expected waiters 11,12 in order, got %+v", con.Waiters)
	}
	if con.Waiters[0].WaitingFor < 2*time.Second {
		t.Errorf("WaitingFor should be measured from the attempt start, got %s", con.Waiters[0].WaitingFor)
	}
	if len(r.Cycles) != 0 {
		t.Errorf("Expected no cycles, got %v", r.Cycles)
	}

	select {
	case got := <-reports:
		if len(got.Contended) != 1 {
			t.Errorf("Dispatched report differs: %s", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Report was not dispatched")
	}
}

func TestAnalyseDetectsABBA(t *testing.T) {
	c, _ := newTestCoordinator(t, -1)
	a := c.Register("a")
	b := c.Register("b")

	// g1 holds a and waits for b, g2 holds b and waits for a
	access := c.BeginAccess()
	hold(t, access, a, 1, 2)
	hold(t, access, b, 2, 1)
	r := c.Analyse(access)
	access.Close()

	if len(r.Cycles) != 1 {
		t.Fatalf("Expected 1 cycle, got %d: %s", len(r.Cycles), r)
	}
	cy := r.Cycles[0]
	if len(cy.Edges) != 2 {
		t.Fatalf("Expected a cycle of 2 edges, got %v", cy.Edges)
	}
	if cy.Edges[0] != (Edge{Waiter: 1, Lock: b, Holder: 2}) || cy.Edges[1] != (Edge{Waiter: 2, Lock: a, Holder: 1}) {
		t.Errorf("Unexpected cycle %s", cy)
	}
	locks := cy.Locks()
	if len(locks) != 2 || locks[0] != b || locks[1] != a {
		t.Errorf("Unexpected locks %v", locks)
	}
	if !strings.Contains(r.String(), "deadlock") {
		t.Errorf("Report string should mention the deadlock: %s", r)
	}
}

func TestAnalyseDetectsSelfDeadlock(t *testing.T) {
	c, _ := newTestCoordinator(t, -1)
	a := c.Register("recursive")

	access := c.BeginAccess()
	hold(t, access, a, 7, 7)
	r := c.Analyse(access)
	access.Close()

	if len(r.Cycles) != 1 || len(r.Cycles[0].Edges) != 1 || r.Cycles[0].Edges[0].Holder != 7 {
		t.Errorf("Expected a self cycle of g7, got %s", r)
	}
}

func TestAnalyseLongChainAndCycle(t *testing.T) {
	c, _ := newTestCoordinator(t, -1)
	ids := make([]LockID, 4)
	for i := range ids {
		ids[i] = c.Register("")
	}

	// chain g5 -> g4 (no cycle) and a cycle g1 -> g2 -> g3 -> g1
	access := c.BeginAccess()
	hold(t, access, ids[0], 4, 5)
	hold(t, access, ids[1], 2, 1)
	hold(t, access, ids[2], 3, 2)
	hold(t, access, ids[3], 1, 3)
	r := c.Analyse(access)
	access.Close()

	if len(r.Contended) != 4 {
		t.Errorf("Expected 4 contended locks, got %d", len(r.Contended))
	}
	if len(r.Cycles) != 1 {
		t.Fatalf("Expected exactly one cycle, got %s", r)
	}
	edges := r.Cycles[0].Edges
	if len(edges) != 3 || edges[0].Waiter != 1 || edges[1].Waiter != 2 || edges[2].Waiter != 3 {
		t.Errorf("Cycle should start at g1 and follow the wait chain, got %s", r.Cycles[0])
	}
}

func TestDispatchRateLimit(t *testing.T) {
	c, reports := newTestCoordinator(t, time.Hour)
	a := c.Register("a")
	b := c.Register("b")

	analyse := func() {
		access := c.BeginAccess()
		c.Analyse(access)
		access.Close()
	}

	access := c.BeginAccess()
	hold(t, access, a, 1, 2)
	access.Close()

	analyse()
	analyse()
	analyse()

	// a new cycle bypasses the limit
	access = c.BeginAccess()
	hold(t, access, b, 2, 1)
	access.Close()
	analyse()
	analyse()

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	var got []Report
	for {
		select {
		case r := <-reports:
			got = append(got, r)
			continue
		default:
		}
		break
	}

	if len(got) != 2 {
		t.Fatalf("Expected 2 dispatched reports, got %d", len(got))
	}
	if len(got[0].Cycles) != 0 || len(got[1].Cycles) != 1 {
		t.Errorf("Expected a plain report followed by a cycle report, got %v", got)
	}
	if c.Stats().Analyses != 5 {
		t.Errorf("Every Analyse call must be counted, got %d", c.Stats().Analyses)
	}
}

func TestAnalyseRequiresOpenAccess(t *testing.T) {
	c, _ := newTestCoordinator(t, -1)
	access := c.BeginAccess()
	access.Close()

	defer func() {
		if recover() == nil {
			t.Error("Analyse on a closed access should panic")
		}
	}()
	c.Analyse(access)
}

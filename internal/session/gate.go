package session

// failureGate counts consecutive connection failures and opens once the threshold is reached.
// It is only touched from the session loop.
type failureGate struct {
	threshold int
	failures  int
	open      bool
}

func newFailureGate(threshold int) *failureGate {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return &failureGate{threshold: threshold}
}

// recordFailure counts a failure and reports whether the gate is now open
func (g *failureGate) recordFailure() bool {
	g.failures++
	if g.failures >= g.threshold {
		g.open = true
	}
	return g.open
}

// recordSuccess closes the gate and forgets past failures
func (g *failureGate) recordSuccess() {
	g.failures = 0
	g.open = false
}

func (g *failureGate) critical() bool {
	return g.open
}

// clearCritical closes the gate but keeps the count, so the next failure reopens it
func (g *failureGate) clearCritical() {
	g.open = false
}

func (g *failureGate) reset() {
	g.failures = 0
	g.open = false
}

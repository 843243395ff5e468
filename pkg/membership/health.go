package membership

// HealthReporter is implemented by memberships that expose a health score.
// Zero is healthy, larger is worse, -1 means not started.
type HealthReporter interface {
    HealthScore() int
}

// Health returns m's health score, or -1 when m does not report one.
func Health(m Membership) int {
    if hr, ok := m.(HealthReporter); ok { return hr.HealthScore() }
    return -1
}

package healthcheck

// HealthcheckFunc is a function that returns a status message, and if the check if healthy or not (false).
// healthchecks must not block, and downstream dependencies should be reported on via a watchdog style, and not by
// making a roundtrip.  Connection state tracked by the cluster manager is such a watchdog.
type HealthcheckFunc func() (string, HealthyStatus)

type HealthyStatus bool

const (
	Healthy   = HealthyStatus(true)
	Unhealthy = HealthyStatus(false)
)

// HealthCheckProvider reports if a component is ready to process traffic.
type HealthCheckProvider interface {
	HealthChecks() []HealthcheckFunc
}

// DeepCheckProvider reports on the downstream dependencies of a component.
type DeepCheckProvider interface {
	DeepChecks() []HealthcheckFunc
}

// MaybeAppendHealthChecks appends the checks of maybeProvider for every provider interface it implements.
func MaybeAppendHealthChecks(healthChecks []HealthcheckFunc, deepChecks []HealthcheckFunc, maybeProvider interface{}) ([]HealthcheckFunc, []HealthcheckFunc) {
	if hcp, ok := maybeProvider.(HealthCheckProvider); ok {
		healthChecks = append(healthChecks, hcp.HealthChecks()...)
	}
	if dcp, ok := maybeProvider.(DeepCheckProvider); ok {
		deepChecks = append(deepChecks, dcp.DeepChecks()...)
	}
	return healthChecks, deepChecks
}

// Report is the outcome of running a set of checks.
type Report struct {
	Ok     []string `json:"ok"`
	Failed []string `json:"failed"`
}

// Healthy reports if no check failed.
func (r Report) Healthy() bool {
	return len(r.Failed) == 0
}

// Run executes every check, in order.
func Run(checks []HealthcheckFunc) Report {
	// Force it render as an array, not null
	r := Report{
		Ok:     []string{},
		Failed: []string{},
	}
	for _, check := range checks {
		report, isHealthy := check()
		if isHealthy == Healthy {
			r.Ok = append(r.Ok, report)
		} else {
			r.Failed = append(r.Failed, report)
		}
	}
	return r
}

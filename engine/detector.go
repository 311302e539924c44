package engine

import "github.com/hupe1980/researchmesh/core"

// DetectorState is the state of a run's termination detector.
type DetectorState int

const (
	// StateRunning is the initial state.
	StateRunning DetectorState = iota
	// StateStalled means orchestration kept repeating itself.
	StateStalled
	// StateCompleted means a stop was accepted with a deliverable present.
	StateCompleted
	// StateForceStopped means a resource limit ended the run.
	StateForceStopped
)

func (s DetectorState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStalled:
		return "stalled"
	case StateCompleted:
		return "completed"
	case StateForceStopped:
		return "force_stopped"
	default:
		return "unknown"
	}
}

// stopKey is the decision key recorded for a rejected stop request.
const stopKey = "stop"

// Detector decides whether a run is finished, stalled or must be forced to
// stop. Running is the only non-terminal state; once terminal, further
// observations are ignored. A Detector belongs to a single run.
type Detector struct {
	state     DetectorState
	status    core.Status
	threshold int

	lastKey      string
	repeats      int
	toolActivity bool
}

// NewDetector creates a detector that stalls once the same decision has been
// repeated threshold times in a row without tool activity in between. A
// threshold <= 0 disables stall detection.
func NewDetector(threshold int) *Detector {
	return &Detector{threshold: threshold}
}

// State returns the current state.
func (d *Detector) State() DetectorState { return d.state }

// Status maps a terminal state to the run status; empty while running.
func (d *Detector) Status() core.Status { return d.status }

// Terminal reports whether the detector left the Running state.
func (d *Detector) Terminal() bool { return d.state != StateRunning }

// Repeats returns how often the current decision key has been repeated.
func (d *Detector) Repeats() int { return d.repeats }

// ObserveToolActivity notes that a tool ran since the last decision.
func (d *Detector) ObserveToolActivity() { d.toolActivity = true }

// ObserveStop evaluates a stop request. It is accepted, moving to Completed,
// only when a deliverable exists.
func (d *Detector) ObserveStop(hasDeliverable bool) bool {
	if d.Terminal() || !hasDeliverable {
		return false
	}
	d.state = StateCompleted
	d.status = core.StatusCompleted
	return true
}

// ObserveDecision records the decision key of the current round (the chosen
// speaker, or the rejected-stop key) and returns the resulting state.
func (d *Detector) ObserveDecision(key string) DetectorState {
	if d.Terminal() {
		return d.state
	}
	if key == d.lastKey && !d.toolActivity {
		d.repeats++
	} else {
		d.repeats = 0
	}
	d.lastKey = key
	d.toolActivity = false

	if d.threshold > 0 && d.repeats >= d.threshold {
		d.state = StateStalled
		d.status = core.StatusStalled
	}
	return d.state
}

// ObserveMalformed records a decision that named no dispatchable worker. It
// never stalls the run and breaks the current repeat chain; the round limit
// bounds a sequence of malformed decisions.
func (d *Detector) ObserveMalformed() {
	if d.Terminal() {
		return
	}
	d.lastKey = ""
	d.repeats = 0
	d.toolActivity = false
}

// CheckRounds forces a stop once roundCount has reached maxRounds, so a new
// round is never started past the limit.
func (d *Detector) CheckRounds(roundCount, maxRounds int) DetectorState {
	if !d.Terminal() && roundCount >= maxRounds {
		d.ForceStop(core.StatusResourceExhausted)
	}
	return d.state
}

// ForceStop moves to ForceStopped with the given status.
func (d *Detector) ForceStop(status core.Status) {
	if d.Terminal() {
		return
	}
	d.state = StateForceStopped
	d.status = status
}

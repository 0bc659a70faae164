// Package ecn implements a 3-state-per-family ECN/L4S validator.
// It has no socket or tracer dependencies of its own — Validate
// returns a Result describing what changed, and the caller (the network
// ingress component, C9) performs the side effects (clearing TOS bits,
// installing/removing an L4S packet processor) since those belong to
// external collaborators this package must not know about.
package ecn

// State is one node in the per-family ECN validation state machine.
type State uint8

const (
	NotAttempted State = iota
	AttemptingECN
	ValidatedECN
	AttemptingL4S
	ValidatedL4S
	FailedValidation
)

func (s State) String() string {
	switch s {
	case NotAttempted:
		return "not_attempted"
	case AttemptingECN:
		return "attempting_ecn"
	case ValidatedECN:
		return "validated_ecn"
	case AttemptingL4S:
		return "attempting_l4s"
	case ValidatedL4S:
		return "validated_l4s"
	case FailedValidation:
		return "failed_validation"
	default:
		return "unknown"
	}
}

// minAckElicitingBeforeValidation is the "at least 10 ack-eliciting
// app-data packets" threshold before a validation attempt is meaningful.
const minAckElicitingBeforeValidation = 10

// EchoedCounts are the peer-echoed mark counters the validator compares
// against expectation.
type EchoedCounts struct {
	CE   uint64
	ECT0 uint64
	ECT1 uint64
}

// Validator runs the per-family ECN/L4S state machine for one connection.
type Validator struct {
	state State
}

// New builds a Validator in the given initial state, per config
// (NotAttempted, AttemptingECN, or AttemptingL4S).
func New(initial State) *Validator {
	return &Validator{state: initial}
}

// State returns the current validation state.
func (v *Validator) State() State { return v.state }

// Result describes the outcome of a Validate call, so the caller can drive
// its own side effects without this package reaching into a socket or tracer.
type Result struct {
	Transitioned    bool
	NewState        State
	PromotedFirstL4S bool // true only the first time L4S validates successfully
	Failed           bool // true the moment state becomes FailedValidation
}

// Validate runs one validation attempt. ackElicitingAppDataSent is the
// running count of ack-eliciting AppData packets sent so far; below the
// threshold, Validate is a no-op. minExpected/totalSent are
// minimumExpectedEcnMarksEchoed and totalPacketsSent.
func (v *Validator) Validate(ackElicitingAppDataSent uint64, minExpected, totalSent uint64, echoed EchoedCounts) Result {
	if ackElicitingAppDataSent < minAckElicitingBeforeValidation {
		return Result{NewState: v.state}
	}
	switch v.state {
	case AttemptingECN, ValidatedECN:
		marked := echoed.CE + echoed.ECT0
		if marked >= minExpected && marked <= totalSent && echoed.ECT1 == 0 {
			if v.state != ValidatedECN {
				v.state = ValidatedECN
				return Result{Transitioned: true, NewState: v.state}
			}
			return Result{NewState: v.state}
		}
		v.state = FailedValidation
		return Result{Transitioned: true, NewState: v.state, Failed: true}

	case AttemptingL4S, ValidatedL4S:
		marked := echoed.CE + echoed.ECT1
		if marked >= minExpected && marked <= totalSent && echoed.ECT0 == 0 {
			wasFirst := v.state != ValidatedL4S
			v.state = ValidatedL4S
			return Result{Transitioned: wasFirst, NewState: v.state, PromotedFirstL4S: wasFirst}
		}
		v.state = FailedValidation
		return Result{Transitioned: true, NewState: v.state, Failed: true}

	default: // NotAttempted, FailedValidation: nothing more to do.
		return Result{NewState: v.state}
	}
}

package domain

// GreetingStage selects the opening behaviour of a reply
type GreetingStage string

const (
	StageFirstMessage GreetingStage = "first"
	StageReturning    GreetingStage = "returning"
	StageContinuation GreetingStage = "continuation"
)

// StageFor classifies hours since the last message. Negative means no
// previous message exists.
func StageFor(hoursSinceLast float64) GreetingStage {
	switch {
	case hoursSinceLast < 0:
		return StageFirstMessage
	case hoursSinceLast > ReturningHours:
		return StageReturning
	default:
		return StageContinuation
	}
}

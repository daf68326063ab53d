package domain

// ReplyKind discriminates the interpreted LLM output
type ReplyKind int

const (
	ReplyNone       ReplyKind = iota // nothing to send
	ReplyNormal                      // one or more customer-facing parts
	ReplyEscalation                  // a control tag was found
)

// Control tags embedded by the model
const (
	TagHandoff  = "[[REQ_HANDOFF]]"
	TagDiscount = "[[REQ_DISCOUNT]]"
	TagUnknown  = "[[UNKNOWN_QUERY]]"

	PartDelimiter = "|||"
)

// Reply is the tagged result of interpreting raw model text.
// Parts is set for ReplyNormal; Tag and Text for ReplyEscalation.
type Reply struct {
	Kind  ReplyKind
	Parts []string
	Tag   ActionType
	Text  string
}

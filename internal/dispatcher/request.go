package dispatcher

import (
	"time"

	"github.com/okieraised/relay-controller/internal/relay"
	"github.com/okieraised/relay-controller/internal/rules"
)

// Origin says who asked for an action.
type Origin string

const (
	OriginRule     Origin = "rule"
	OriginSchedule Origin = "schedule"
	OriginAPI      Origin = "api"
	OriginCalendar Origin = "calendar"
)

// Request is one action handed to the dispatcher.
type Request struct {
	ID       string
	Origin   Origin
	RuleID   string
	RuleName string
	Action   rules.Action
	Enqueued time.Time
}

type Result string

const (
	ResultSucceeded Result = "succeeded"
	ResultFailed    Result = "failed"
	ResultAbandoned Result = "abandoned"
	ResultSkipped   Result = "skipped"
)

// Outcome is the terminal state of one request.
type Outcome struct {
	Request  Request
	Result   Result
	Attempts int
	Err      error
	// Relay is set for io actions that reached the controller.
	Relay    *relay.Status
	Finished time.Time
}

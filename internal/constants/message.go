package constants

type EventType string

const (
	EventRelayState   EventType = "RelayState"
	EventRuleFired    EventType = "RuleFired"
	EventActionResult EventType = "ActionResult"
	EventReload       EventType = "RegistryReload"
)

const (
	EventMessageVersion = "1.0.0"
)

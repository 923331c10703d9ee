package pulse

// Event topics published by the engine. Payload is models.TransitionEvent.
const (
	TopicServiceDown = "pulse.service.down"
	TopicServiceUp   = "pulse.service.up"
)

const eventSource = "pulse"

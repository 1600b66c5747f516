package domain

// EngineState is the lifecycle position of an engine instance.
type EngineState string

const (
	StateUnstarted EngineState = "unstarted" // Constructed, accepting registrations
	StateStarting  EngineState = "starting"  // Replaying the journal
	StateRunning   EngineState = "running"   // Accepting commands and queries
	StateStopped   EngineState = "stopped"   // Terminal
)

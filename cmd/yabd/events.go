package main

// Event is a marker interface for everything the daemon loop consumes.
type Event interface {
	eventMarker()
}

// AmbientChanged carries a new ambient light reading from the sensor.
type AmbientChanged struct {
	Lux float64
}

func (AmbientChanged) eventMarker() {}

// CommandRequest asks the daemon loop to execute a remote command.
// Reply must have room for one result; the loop never blocks on it.
type CommandRequest struct {
	Command Command
	Reply   chan<- CommandResult
}

func (CommandRequest) eventMarker() {}

// RequestStateSnapshot asks the daemon loop for the current state.
type RequestStateSnapshot struct {
	Reply chan<- StateSnapshot
}

func (RequestStateSnapshot) eventMarker() {}

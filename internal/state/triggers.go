package state

// Trigger represents an event that causes a state transition.
type Trigger string

const (
	TriggerLogin            Trigger = "login"
	TriggerQRDetected       Trigger = "qr_detected"
	TriggerCodeDelivered    Trigger = "code_delivered"
	TriggerLoggedIn         Trigger = "logged_in"
	TriggerSyncSettled      Trigger = "sync_settled"
	TriggerLoginExited      Trigger = "login_exited"
	TriggerValidated        Trigger = "validated"
	TriggerValidationFailed Trigger = "validation_failed"
	TriggerResync           Trigger = "resync"
	TriggerSessionDropped   Trigger = "session_dropped"
	TriggerReset            Trigger = "reset"
	TriggerShutdown         Trigger = "shutdown"
	TriggerShutdownComplete Trigger = "shutdown_complete"
	TriggerFatalError       Trigger = "fatal_error"
)

// String returns the string representation of the trigger.
func (t Trigger) String() string {
	return string(t)
}

package supervisor

import "fmt"

// Reason classifies a startup failure.
type Reason string

const (
	ReasonNoArtifact        Reason = "no_artifact"
	ReasonMultipleArtifacts Reason = "multiple_artifacts"
	ReasonLaunch            Reason = "launch"
	ReasonExited            Reason = "exited"
	ReasonTimeout           Reason = "timeout"
	ReasonCanceled          Reason = "canceled"
)

// StartupError aborts a suite: the gateway could not be brought up.
type StartupError struct {
	Reason   Reason
	Artifact string
	LogPath  string
	Err      error
}

func (e *StartupError) Error() string {
	msg := fmt.Sprintf("gateway startup failed (%s)", e.Reason)
	if e.Artifact != "" {
		msg += " for " + e.Artifact
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.LogPath != "" {
		msg += " (see " + e.LogPath + ")"
	}
	return msg
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

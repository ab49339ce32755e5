package voice

import (
	"errors"
	"fmt"
)

type CapabilityKind int

const (
	CapabilityOther CapabilityKind = iota
	CapabilityDenied
	CapabilityNotFound
	CapabilitySilent
	CapabilityBlocked
	CapabilityInAppBrowser
)

func (k CapabilityKind) String() string {
	switch k {
	case CapabilityDenied:
		return "denied"
	case CapabilityNotFound:
		return "not-found"
	case CapabilitySilent:
		return "silent"
	case CapabilityBlocked:
		return "blocked"
	case CapabilityInAppBrowser:
		return "in-app-browser"
	}
	return "other"
}

// CapabilityError means the microphone could not be used. The user has to
// act on it, so every kind maps to an advisory.
type CapabilityError struct {
	Kind CapabilityKind
	Err  error
}

func (e *CapabilityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("microphone %s: %v", e.Kind, e.Err)
	}
	return "microphone " + e.Kind.String()
}

func (e *CapabilityError) Unwrap() error { return e.Err }

func (e *CapabilityError) Advisory() Advisory {
	switch e.Kind {
	case CapabilityDenied:
		return AdvisoryMicDenied
	case CapabilityNotFound:
		return AdvisoryMicNotFound
	case CapabilitySilent:
		return AdvisoryMicSilent
	case CapabilityBlocked:
		return AdvisoryMicBlocked
	case CapabilityInAppBrowser:
		return AdvisoryInAppBrowser
	}
	return AdvisoryMicFailed
}

// ClassifyMicError maps a platform error name to a capability kind.
func ClassifyMicError(name string, cause error) *CapabilityError {
	kind := CapabilityOther
	switch name {
	case "NotAllowedError", "PermissionDeniedError":
		kind = CapabilityDenied
	case "NotFoundError", "OverconstrainedError", "DevicesNotFoundError":
		kind = CapabilityNotFound
	case "SecurityError":
		kind = CapabilityBlocked
	}
	return &CapabilityError{Kind: kind, Err: cause}
}

func asCapabilityError(err error) *CapabilityError {
	var ce *CapabilityError
	if errors.As(err, &ce) {
		return ce
	}
	return &CapabilityError{Kind: CapabilityOther, Err: err}
}

// Advisory is a dismissible user-facing message.
type Advisory string

const (
	AdvisoryNone         Advisory = ""
	AdvisoryInAppBrowser Advisory = "Please open this page in your phone's browser (Safari or Chrome). In-app browsers often block the microphone."
	AdvisoryMicBlocked   Advisory = "Microphone access is blocked for this site. Allow it in your browser settings and try again."
	AdvisoryMicDenied    Advisory = "Microphone permission was denied. Allow microphone access and try again."
	AdvisoryMicNotFound  Advisory = "No microphone was found. Connect one and try again."
	AdvisoryMicSilent    Advisory = "The microphone was acquired but delivers no audio. Check your input device."
	AdvisoryMicFailed    Advisory = "Could not access the microphone."
	AdvisoryInactive     Advisory = "No response from AI for 30 seconds. The session was ended."
)

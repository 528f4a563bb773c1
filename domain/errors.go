package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure an operation trigger can return
type ErrorKind string

const (
	KindUnknown                   ErrorKind = "unknown"
	KindInsufficientCredits       ErrorKind = "insufficient_credits"
	KindLedgerSyncFailed          ErrorKind = "ledger_sync_failed"
	KindSubmissionFailed          ErrorKind = "submission_failed"
	KindProviderJobFailed         ErrorKind = "provider_job_failed"
	KindMissingDeliveryLocator    ErrorKind = "missing_delivery_locator"
	KindDeliveryFetchFailed       ErrorKind = "delivery_fetch_failed"
	KindMalformedReportPayload    ErrorKind = "malformed_report_payload"
	KindMissingAudioPayload       ErrorKind = "missing_audio_payload"
	KindMissingImagePayload       ErrorKind = "missing_image_payload"
	KindDeviceUnavailable         ErrorKind = "device_unavailable"
	KindOperationInFlight         ErrorKind = "operation_in_flight"
	KindJobTimedOut               ErrorKind = "job_timed_out"
	KindJobCancelled              ErrorKind = "job_cancelled"
	KindInvalidInput              ErrorKind = "invalid_input"
	KindAccountNotFound           ErrorKind = "account_not_found"
	KindPaymentVerificationFailed ErrorKind = "payment_verification_failed"
)

// Error is a classified failure. Op names the operation that produced it.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, &Error{Kind: k}) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// E builds a classified error
func E(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error with a formatted cause
func Errorf(kind ErrorKind, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in err's chain
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

var userMessages = map[ErrorKind]string{
	KindInsufficientCredits:       "You do not have enough credits for this. Top up to continue.",
	KindLedgerSyncFailed:          "Your balance could not be saved right now and may be out of date.",
	KindSubmissionFailed:          "The AI service could not be reached. Please try again.",
	KindProviderJobFailed:         "The render was stopped by the server. Try a different prompt.",
	KindMissingDeliveryLocator:    "The server did not return a download link. Try a different prompt.",
	KindDeliveryFetchFailed:       "The generated video could not be downloaded.",
	KindMalformedReportPayload:    "The analysis failed. Please try again.",
	KindMissingAudioPayload:       "This voice could not be synthesized. Try shorter text or another voice.",
	KindMissingImagePayload:       "No image came back. Try rewording your prompt.",
	KindDeviceUnavailable:         "The microphone is blocked or unavailable.",
	KindOperationInFlight:         "Another request is still running. Wait for it to finish.",
	KindJobTimedOut:               "The render took too long and was stopped.",
	KindJobCancelled:              "The render was cancelled.",
	KindInvalidInput:              "Some of the input is missing or invalid.",
	KindAccountNotFound:           "Your session has expired. Sign in again.",
	KindPaymentVerificationFailed: "The payment could not be verified.",
}

// Operations whose failures read differently to the user
const (
	OpImageEdit     = "normalize.image-edit"
	OpImageGenerate = "normalize.image-generate"
)

var opMessages = map[ErrorKind]map[string]string{
	KindMissingImagePayload: {
		OpImageEdit:     "The image edit failed. Try describing the change differently.",
		OpImageGenerate: "The image could not be generated. Try rewording your prompt.",
	},
}

// MessageFor is UserMessage refined by the operation that failed
func MessageFor(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if msg, ok := opMessages[e.Kind][e.Op]; ok {
			return msg
		}
	}
	return UserMessage(KindOf(err))
}

// UserMessage maps a kind to a short, non-technical message
func UserMessage(kind ErrorKind) string {
	if msg, ok := userMessages[kind]; ok {
		return msg
	}
	return "Something went wrong. Please try again."
}

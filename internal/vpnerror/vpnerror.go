// Package vpnerror is the closed failure taxonomy for the connection core.
// Every failure crossing an adapter's public surface is one of these kinds,
// carrying a human message, flat diagnostics, and a remediation hint.
package vpnerror

import (
	"fmt"
	"strconv"
	"time"
)

type Kind string

const (
	KindAuthentication Kind = "authentication"
	KindNetwork        Kind = "network"
	KindTimeout        Kind = "timeout"

	KindWireGuardBadKeys      Kind = "wireguard_bad_keys"
	KindWireGuardEndpoint     Kind = "wireguard_endpoint"
	KindWireGuardAllowedRange Kind = "wireguard_allowed_range"

	KindVlessTLS         Kind = "vless_tls"
	KindVlessTransport   Kind = "vless_transport"
	KindVlessObfuscation Kind = "vless_obfuscation"

	KindConfiguration Kind = "configuration"
	KindPermission    Kind = "permission"
	KindBusy          Kind = "busy"
	KindCanceled      Kind = "canceled"
	KindGeneric       Kind = "generic"
)

// Error is immutable after construction.
type Error struct {
	Kind        Kind
	Message     string
	Diagnostics map[string]string
	Remediation string

	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Diagnostic returns a single diagnostic value, empty when absent.
func (e *Error) Diagnostic(key string) string {
	return e.Diagnostics[key]
}

func newError(kind Kind, msg, remediation string, cause error) *Error {
	return &Error{
		Kind:        kind,
		Message:     msg,
		Diagnostics: map[string]string{},
		Remediation: remediation,
		cause:       cause,
	}
}

func (e *Error) with(key, val string) *Error {
	e.Diagnostics[key] = val
	return e
}

func Authentication(msg string, cause error) *Error {
	return newError(KindAuthentication, msg,
		"Check the stored credentials for this server and re-enter them if needed.",
		cause)
}

func Network(msg string, cause error) *Error {
	return newError(KindNetwork, msg,
		"Check your internet connection and that the server address resolves.",
		cause)
}

// Timeout records which stage timed out and how long we waited.
func Timeout(stage string, elapsed time.Duration, cause error) *Error {
	e := newError(KindTimeout,
		fmt.Sprintf("%s timed out after %s", stage, elapsed.Round(time.Second)),
		"Check that a firewall allows the tunnel transport and that the server is running.",
		cause)
	return e.
		with("stage", stage).
		with("elapsed_sec", strconv.FormatInt(int64(elapsed.Seconds()), 10))
}

// HandshakeTimeout is a verification timeout carrying the last observed
// byte counters, so "sent but never answered" can be told apart from
// "nothing sent at all".
func HandshakeTimeout(elapsed time.Duration, rx, tx uint64) *Error {
	e := Timeout("handshake", elapsed, nil)
	e.Message = fmt.Sprintf("no handshake response after %s", elapsed.Round(time.Second))
	return e.
		with("rx_bytes", strconv.FormatUint(rx, 10)).
		with("tx_bytes", strconv.FormatUint(tx, 10))
}

func WireGuardBadKeys(msg string, cause error) *Error {
	return newError(KindWireGuardBadKeys, msg,
		"The key material is malformed. Keys must be 32 bytes, base64-encoded.",
		cause)
}

func WireGuardEndpoint(endpoint string, cause error) *Error {
	e := newError(KindWireGuardEndpoint,
		fmt.Sprintf("endpoint %q is not a valid host:port", endpoint),
		"Fix the server endpoint in the profile; it must be host:port.",
		cause)
	return e.with("endpoint", endpoint)
}

func WireGuardAllowedRange(cidr string, cause error) *Error {
	e := newError(KindWireGuardAllowedRange,
		fmt.Sprintf("allowed address range %q is not valid CIDR", cidr),
		"Fix the allowed IP ranges in the profile; each must be CIDR notation.",
		cause)
	return e.with("cidr", cidr)
}

func VlessTLS(msg string, cause error) *Error {
	return newError(KindVlessTLS, msg,
		"Verify the server certificate, SNI, and system clock; enable insecure mode only if you trust the server.",
		cause)
}

func VlessTransport(msg string, cause error) *Error {
	return newError(KindVlessTransport, msg,
		"Check that the chosen transport matches what the server expects.",
		cause)
}

func VlessObfuscation(msg string, cause error) *Error {
	return newError(KindVlessObfuscation, msg,
		"Check the obfuscation settings against the server configuration.",
		cause)
}

func Configuration(field, msg string) *Error {
	e := newError(KindConfiguration, msg,
		"Edit the profile and fill in the missing or invalid field.",
		nil)
	return e.with("field", field)
}

func ProfileNotFound(id string) *Error {
	e := newError(KindConfiguration,
		fmt.Sprintf("profile %q not found", id),
		"The profile may have been deleted; pick another server.",
		nil)
	return e.with("profile_id", id)
}

func Permission(msg string, cause error) *Error {
	return newError(KindPermission, msg,
		"Grant the tunnel permission (on most systems this requires elevated rights).",
		cause)
}

// Busy rejects a second connect while one is already in flight.
func Busy(op string) *Error {
	e := newError(KindBusy,
		fmt.Sprintf("another %s is already in progress", op),
		"Wait for the current operation to finish or disconnect first.",
		nil)
	return e.with("operation", op)
}

// Canceled marks a caller-initiated abort. The tunnel is not at fault, so
// there is nothing to remedy beyond reissuing the operation if it was
// wanted after all.
func Canceled(cause error) *Error {
	return newError(KindCanceled, "operation canceled",
		"No action needed; run the operation again if the cancel was unintended.",
		cause)
}

func Generic(msg string, cause error) *Error {
	return newError(KindGeneric, msg,
		"Retry the operation; if it keeps failing, inspect the logs.",
		cause)
}

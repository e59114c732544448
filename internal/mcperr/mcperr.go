// Package mcperr defines the gateway's error taxonomy and the JSON-RPC
// error code table from §4.G/§7 of the design. A single typed error
// carries both a JSON-RPC error code and a Class the protocol core uses to
// decide log level and retry eligibility, so that decision lives in one
// place instead of being re-derived at every call site.
package mcperr

import "fmt"

// Class is the high-level error taxonomy from §7.
type Class string

const (
	Transient   Class = "transient"
	ClientError Class = "client_error"
	ToolError   Class = "tool_error"
	PolicyError Class = "policy_error"
	Internal    Class = "internal"
)

// Standard JSON-RPC 2.0 codes plus this engine's MCP extensions.
const (
	CodeParseError                 = -32700
	CodeInvalidRequest             = -32600
	CodeMethodNotFound             = -32601
	CodeInvalidParams              = -32602
	CodeInternalError              = -32603
	CodeToolNotFound               = -32000
	CodeToolExecFailed             = -31999
	CodeResourceNotFound           = -31998
	CodeResourceDenied             = -31997
	CodeAuthnFailed                = -31994
	CodeAuthzFailed                = -31993
	CodeValidationError            = -31991
	CodeRateLimited                = -31990
	CodeServerBusy                 = -31989
	CodeNoConfidentMatch           = -31988
	CodeArgSynthFailed             = -31987
	CodeUnsupportedProtocolVersion = -31986
)

// Error is the gateway's typed error, convertible directly to a JSON-RPC
// error object by the protocol core.
type Error struct {
	Code    int
	Class   Class
	Message string
	Data    interface{}
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func newErr(code int, class Class, msg string) *Error {
	return &Error{Code: code, Class: class, Message: msg}
}

// WithData attaches structured error data (e.g. the JSON-pointer of an
// offending field) and returns the same error for chaining.
func (e *Error) WithData(data interface{}) *Error {
	e.Data = data
	return e
}

// Wrap attaches an underlying cause, preserved via errors.Unwrap.
func (e *Error) Wrap(cause error) *Error {
	e.cause = cause
	return e
}

func ParseError(msg string) *Error     { return newErr(CodeParseError, ClientError, msg) }
func InvalidRequest(msg string) *Error { return newErr(CodeInvalidRequest, ClientError, msg) }
func MethodNotFound(method string) *Error {
	return newErr(CodeMethodNotFound, ClientError, fmt.Sprintf("method not found: %s", method))
}
func InvalidParams(msg string) *Error    { return newErr(CodeInvalidParams, ClientError, msg) }
func InternalError(msg string) *Error    { return newErr(CodeInternalError, Internal, msg) }
func ToolNotFound(name string) *Error {
	return newErr(CodeToolNotFound, ClientError, fmt.Sprintf("tool not found: %s", name))
}
func ToolDisabled(name string) *Error {
	return newErr(CodeValidationError, PolicyError, fmt.Sprintf("tool disabled: %s", name)).WithData(map[string]string{"reason": "tool disabled"})
}
func ToolExecutionFailed(msg string) *Error {
	return newErr(CodeToolExecFailed, ToolError, msg)
}
func ResourceNotFound(uri string) *Error {
	return newErr(CodeResourceNotFound, ClientError, fmt.Sprintf("resource not found: %s", uri))
}
func ResourceAccessDenied(uri string) *Error {
	return newErr(CodeResourceDenied, PolicyError, fmt.Sprintf("resource access denied: %s", uri))
}
func AuthenticationFailed(msg string) *Error { return newErr(CodeAuthnFailed, ClientError, msg) }
func AuthorizationFailed(requiredScopes []string) *Error {
	return newErr(CodeAuthzFailed, PolicyError, "insufficient scope").WithData(map[string]interface{}{"required_scopes": requiredScopes})
}
func ValidationError(msg string) *Error   { return newErr(CodeValidationError, ClientError, msg) }
func RateLimitExceeded(msg string) *Error { return newErr(CodeRateLimited, PolicyError, msg) }
func ServerBusy(serverID string) *Error {
	return newErr(CodeServerBusy, Transient, fmt.Sprintf("server busy: %s", serverID))
}
func ServerUnavailable(serverID string) *Error {
	return newErr(CodeToolExecFailed, Transient, fmt.Sprintf("server unavailable: %s", serverID)).WithData(map[string]string{"server": serverID})
}
func Timeout(msg string) *Error { return newErr(CodeToolExecFailed, Transient, msg) }

// NoConfidentMatch means the discovery engine's best candidate fell below
// the confidence threshold; data carries the top candidates for
// disambiguation.
func NoConfidentMatch(candidates interface{}) *Error {
	return newErr(CodeNoConfidentMatch, ClientError, "no tool matched the request with sufficient confidence").WithData(candidates)
}

// ArgumentSynthesisFailed means the discovery engine's selected arguments
// failed schema validation even after one repair pass.
func ArgumentSynthesisFailed(toolName, reason string) *Error {
	return newErr(CodeArgSynthFailed, ClientError, fmt.Sprintf("could not synthesise valid arguments for %q: %s", toolName, reason))
}

// UnsupportedProtocolVersion means the client's initialize request named a
// protocolVersion the gateway does not speak; data lists the versions it
// does support so the client can retry with one of them.
func UnsupportedProtocolVersion(requested string, supported []string) *Error {
	return newErr(CodeUnsupportedProtocolVersion, ClientError, fmt.Sprintf("unsupported protocol version: %s", requested)).
		WithData(map[string]interface{}{"requested": requested, "supported": supported})
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 KindBridge Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodePersistKeyNotFound    Code = "persist.key.not_found"
	CodePersistRecordCorrupt  Code = "persist.record.corrupt"
	CodePersistReadFailure    Code = "persist.read.failure"
	CodePersistWriteFailure   Code = "persist.write.failure"
	CodePersistDeleteFailure  Code = "persist.delete.failure"
	CodePersistBackendUnknown Code = "persist.backend.unsupported"
	CodePersistInvalidInput   Code = "persist.invalid_input"

	CodeBackendRequestInvalid  Code = "backend.request.invalid"
	CodeBackendResponseInvalid Code = "backend.response.invalid"
	CodeBackendUpstreamFailure Code = "backend.upstream.failure"
	CodeBackendTimeout         Code = "backend.request.timeout"

	CodeIdentityResolveFailure Code = "identity.resolve.failure"
	CodeIdentityUserNotFound   Code = "identity.user.not_found"
	CodeIdentityInputInvalid   Code = "identity.input.invalid"

	CodeRolesSourceUnavailable Code = "roles.source.unavailable"
	CodeRolesSourceTimeout     Code = "roles.source.timeout"

	CodeTokenInvalid        Code = "token.invalid"
	CodeTokenRefreshTimeout Code = "token.refresh.timeout"

	CodeSessionNotReady      Code = "session.engine.not_ready"
	CodeSessionStateInvalid  Code = "session.state.transition_invalid"
	CodeSessionRestoreFailed Code = "session.restore.failure"

	CodeProviderSignOutFailure Code = "provider.signout.failure"
	CodeProviderTokenFailure   Code = "provider.token.failure"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeCLISetupFailure Code = "cli.setup.failure"
	CodeCLIInputInvalid Code = "cli.input.invalid"

	CodeInternalFailure Code = "internal.failure"
)

// codedError pins the classification of the chain it heads. oops resolves
// the deepest code in a nested chain, which inverts re-wrapping semantics:
// wrapping a user-not-found error in a resolve-failure code must make the
// resolve-failure code the one callers observe. The outermost codedError in
// a chain is authoritative.
type codedError struct {
	code Code
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldUserID(value string) Attr {
	return Field("user_id", value)
}

func FieldEmail(value string) Attr {
	return Field("email", value)
}

func FieldKey(value string) Attr {
	return Field("key", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return &codedError{code: code, err: oops.Code(code).With(flatten(fields)...).New(msg)}
}

func Errorf(code Code, format string, args ...any) error {
	return &codedError{code: code, err: oops.Code(code).Errorf(format, args...)}
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return &codedError{code: code, err: oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)}
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return &codedError{code: code, err: oops.Code(code).Wrapf(err, format, args...)}
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeInternalFailure
	}

	return &codedError{code: code, err: oops.Code(code).With(flatten(fields)...).Wrap(err)}
}

// CodeOf returns the outermost classification in the chain. Re-wrapping an
// already coded error re-classifies it.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	var coded *codedError
	if stderrors.As(err, &coded) {
		return coded.code
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsCorrupt(err error) bool {
	return reason(CodeOf(err)) == "corrupt"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

// IsTokenInvalid reports the Token Validator's definitive rejection. Callers
// treat it as "purge the session", unlike transport failures which degrade.
func IsTokenInvalid(err error) bool {
	return HasCode(err, CodeTokenInvalid)
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), "upstream") && reason(code) == "failure"
}

func Join(errs ...error) error {
	joined := stderrors.Join(errs...)
	if joined == nil {
		return nil
	}
	return &codedError{code: CodeInternalFailure, err: oops.Code(CodeInternalFailure).Wrap(joined)}
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}

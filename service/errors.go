// Package service holds the survey response operations exposed over HTTP:
// upload, read, privacy update and deletion.
package service

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/mbolis/sensing-survey/database"
)

type Code string

const (
	CodeInvalidResponses        Code = "survey.invalid_responses"
	CodeInvalidFilter           Code = "survey.invalid_filter"
	CodeInsufficientPermissions Code = "survey.insufficient_permissions"
	CodeDuplicateMedia          Code = "survey.duplicate_media_uuids"
	CodeInvalidMedia            Code = "survey.invalid_media"
	CodeUpdateNotAllowed        Code = "survey.update_not_allowed"
	CodeInvalidCampaign         Code = "campaign.invalid_id"
	CodeCampaignStopped         Code = "campaign.invalid_running_state"
	CodeCampaignOutOfDate       Code = "campaign.out_of_date"
	CodeInvalidPrivacyState     Code = "survey.invalid_privacy_state"
	CodeInternal                Code = "server.internal_error"
	CodeTransaction             Code = "server.transaction_error"
)

// Error is a failure reported to the client with a stable code. Message is
// meant for users; Err, when set, is only logged.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func fail(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func failWith(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

const msgCannotModify = "The user does not have permission to modify the survey response."

// internal hides a store failure behind an opaque error, keeping rollback
// failures apart.
func internal(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, database.ErrTransaction) {
		return failWith(CodeTransaction, errors.WithMessage(err, op), "The transaction could not be completed.")
	}
	return failWith(CodeInternal, errors.WithMessage(err, op), "An internal error occurred.")
}

// AsError extracts the service error carried by err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

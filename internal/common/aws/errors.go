package aws

import (
	"context"
	"errors"

	"github.com/aws/smithy-go"
)

// Error codes SES returns for requests that will never succeed on retry.
var permanentCodes = map[string]struct{}{
	"MessageRejected":                       {},
	"MailFromDomainNotVerifiedException":    {},
	"MailFromDomainNotVerified":             {},
	"ConfigurationSetDoesNotExistException": {},
	"ConfigurationSetDoesNotExist":          {},
	"AccountSendingPausedException":         {},
	"AccountSendingPaused":                  {},
	"InvalidParameterValue":                 {},
	"InvalidParameter":                      {},
	"ValidationError":                       {},
	"AuthorizationError":                    {},
	"NotFound":                              {},
	"InvalidClientTokenId":                  {},
	"AccessDenied":                          {},
}

// IsPermanent reports whether err is a service rejection that retrying
// cannot fix. Timeouts, throttling and unknown errors are transient.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, ok := permanentCodes[apiErr.ErrorCode()]; ok {
			return true
		}
		return apiErr.ErrorFault() == smithy.FaultClient && apiErr.ErrorCode() != "Throttling"
	}
	return false
}

// ErrorCode returns the AWS error code, or "" for non-API errors.
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

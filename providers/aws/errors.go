package aws

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"

	"github.com/provisr-io/provisr/pkg/provider"
)

// transientCodes are AWS API error codes worth retrying. Everything
// else carrying a client fault is treated as permanent.
var transientCodes = map[string]bool{
	"Throttling":                  true,
	"ThrottlingException":         true,
	"TooManyRequestsException":    true,
	"RequestLimitExceeded":        true,
	"RequestTimeout":              true,
	"RequestTimeoutException":     true,
	"ServiceUnavailable":          true,
	"ServiceUnavailableException": true,
	"InternalError":               true,
	"InternalFailure":             true,
	"InternalServerError":         true,
	"ServerException":             true,
	"ConcurrentModification":      true,
}

// classify wraps an SDK error with a retry classification derived from
// the API error code, or the fault origin when the code is unknown.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		// Connection resets and timeouts never reach the API layer;
		// leave them unclassified for the engine's heuristics.
		return fmt.Errorf("%s: %w", op, err)
	}

	if transientCodes[apiErr.ErrorCode()] || apiErr.ErrorFault() == smithy.FaultServer {
		return provider.NewTransient(op, err)
	}
	return provider.NewPermanent(op, err)
}

// errorCode extracts the AWS API error code, or "" for non-API errors.
func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

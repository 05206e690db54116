package vsac

import (
	"fmt"
	"net/http"
)

// Error codes are stable and surface in API responses.
const (
	CodeAuthRequired       = "AUTH_REQUIRED"
	CodeAuthFailed         = "AUTH_FAILED"
	CodeAccessForbidden    = "ACCESS_FORBIDDEN"
	CodeValueSetNotFound   = "VALUESET_NOT_FOUND"
	CodeRateLimit          = "RATE_LIMIT"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeAPIError           = "API_ERROR"
	CodeNetworkError       = "NETWORK_ERROR"
	CodeParseError         = "PARSE_ERROR"
)

type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code,omitempty"`
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("vsac %s (HTTP %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("vsac %s: %s", e.Code, e.Message)
}

// Is matches errors by code so callers can use errors.Is with a bare &Error{Code: ...}.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func statusError(status int, oid string) *Error {
	e := &Error{StatusCode: status}
	switch {
	case status == http.StatusUnauthorized:
		e.Code, e.Message = CodeAuthFailed, "authentication failed, check VSAC username and password"
	case status == http.StatusForbidden:
		e.Code, e.Message = CodeAccessForbidden, "account does not have access to value set "+oid
	case status == http.StatusNotFound:
		e.Code, e.Message = CodeValueSetNotFound, "value set "+oid+" not found"
	case status == http.StatusTooManyRequests:
		e.Code, e.Message = CodeRateLimit, "rate limit exceeded"
	case status >= 500:
		e.Code, e.Message = CodeServiceUnavailable, "terminology service unavailable"
	default:
		e.Code, e.Message = CodeAPIError, fmt.Sprintf("unexpected response status %d", status)
	}
	return e
}

var guidance = map[string][]string{
	CodeAuthRequired: {
		"Provide vsac_username and vsac_password, or set VSAC_USERNAME and VSAC_PASSWORD",
		"Request a UMLS license at https://uts.nlm.nih.gov/uts/signup-login",
	},
	CodeAuthFailed: {
		"Verify the UMLS username and password (or API key)",
		"Check that the UMLS account is active and the license has not expired",
	},
	CodeAccessForbidden: {
		"Confirm the account has accepted the VSAC license agreement",
		"Some value sets require steward permissions",
	},
	CodeValueSetNotFound: {
		"Verify the OID is correct and the value set is published",
		"Check whether the value set was retired or replaced",
	},
	CodeRateLimit: {
		"Reduce VSAC_CONCURRENCY",
		"Retry after a short delay",
	},
	CodeServiceUnavailable: {
		"VSAC may be under maintenance, retry later",
		"Check https://www.nlm.nih.gov/vsac/support/index.html for service status",
	},
	CodeNetworkError: {
		"Check network connectivity to vsac.nlm.nih.gov",
		"Increase VSAC_TIMEOUT for slow connections",
	},
	CodeParseError: {
		"The service returned an unexpected document, retry or report the OID",
	},
}

// Guidance returns remediation hints for an error code.
func Guidance(code string) []string {
	if g, ok := guidance[code]; ok {
		return g
	}
	return []string{"Retry the request; if the problem persists check the terminology service status"}
}

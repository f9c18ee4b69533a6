package diagnosis

import (
	"errors"
	"strings"

	"google.golang.org/genai"
)

// TransportErrorKind categorizes a failed model call.
type TransportErrorKind string

const (
	KindCredential    TransportErrorKind = "credential"
	KindQuota         TransportErrorKind = "quota"
	KindNetwork       TransportErrorKind = "network"
	KindServer        TransportErrorKind = "server"
	KindBadRequest    TransportErrorKind = "bad_request"
	KindEmptyResponse TransportErrorKind = "empty_response"
	KindUnknown       TransportErrorKind = "unknown"
)

// TransportError is returned by RequestDiagnosis when the model call fails.
// Err carries the SDK error verbatim.
type TransportError struct {
	Kind    TransportErrorKind
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ErrNoAPIKey is wrapped by the credential error returned when the
// requester was built without a generator.
var ErrNoAPIKey = errors.New("GEMINI_API_KEY is not configured")

// Classify maps an SDK or network error to a TransportError.
func Classify(err error) *TransportError {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}

	var apiErr *genai.APIError
	if errors.As(err, &apiErr) && apiErr != nil {
		return classifyAPIError(apiErr, err)
	}

	errLower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errLower, "unauthenticated") ||
		strings.Contains(errLower, "api key not valid") ||
		strings.Contains(errLower, "invalid api key") ||
		strings.Contains(errLower, "api_key_invalid") ||
		strings.Contains(errLower, "permission denied"):
		return &TransportError{Kind: KindCredential, Message: "API key is invalid or has been revoked", Err: err}

	case strings.Contains(errLower, "quota") ||
		strings.Contains(errLower, "resource exhausted") ||
		strings.Contains(errLower, "resource_exhausted") ||
		strings.Contains(errLower, "rate limit"):
		return &TransportError{Kind: KindQuota, Message: "API quota exceeded or rate limited", Err: err}

	case strings.Contains(errLower, "connection") ||
		strings.Contains(errLower, "network") ||
		strings.Contains(errLower, "timeout") ||
		strings.Contains(errLower, "deadline exceeded") ||
		strings.Contains(errLower, "dial") ||
		strings.Contains(errLower, "no such host") ||
		strings.Contains(errLower, "unreachable"):
		return &TransportError{Kind: KindNetwork, Message: "Network error - check your internet connection", Err: err}

	case strings.Contains(errLower, "internal") ||
		strings.Contains(errLower, "unavailable"):
		return &TransportError{Kind: KindServer, Message: "Gemini API server error - try again later", Err: err}

	case strings.Contains(errLower, "invalid_argument"):
		return &TransportError{Kind: KindBadRequest, Message: "Gemini rejected the request", Err: err}

	default:
		return &TransportError{Kind: KindUnknown, Message: "Gemini request failed", Err: err}
	}
}

func classifyAPIError(apiErr *genai.APIError, err error) *TransportError {
	switch {
	case apiErr.Code == 401 || apiErr.Code == 403:
		return &TransportError{Kind: KindCredential, Message: "API key is invalid, expired, or lacks permissions", Err: err}
	case apiErr.Code == 400 && strings.Contains(strings.ToLower(apiErr.Message), "api key"):
		return &TransportError{Kind: KindCredential, Message: "API key is malformed", Err: err}
	case apiErr.Code == 400 || apiErr.Code == 413 || apiErr.Code == 415:
		return &TransportError{Kind: KindBadRequest, Message: "Gemini rejected the request", Err: err}
	case apiErr.Code == 429:
		return &TransportError{Kind: KindQuota, Message: "API rate limit exceeded - try again later", Err: err}
	case apiErr.Code >= 500:
		return &TransportError{Kind: KindServer, Message: "Gemini API server error - try again later", Err: err}
	default:
		return &TransportError{Kind: KindUnknown, Message: "Gemini request failed", Err: err}
	}
}

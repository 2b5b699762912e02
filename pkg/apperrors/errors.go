package apperrors

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrEmptyQuery             = errors.New("query must not be empty")
	ErrQueryTooLong           = errors.New("query exceeds the maximum allowed length")
	ErrInvalidConversationID  = errors.New("conversation id must be a valid UUID")
	ErrInvalidRole            = errors.New("invalid role")
	ErrServiceUnavailable     = errors.New("service unavailable: language models are not loaded")
	ErrInvalidHistoryLimit    = errors.New("history limit must be positive")
	ErrConversationIDRequired = errors.New("conversation id is required")
)

// InputErrorCode returns a stable machine-readable code for errors caused by
// caller input, or "" when err is not one of them.
func InputErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyQuery):
		return "empty_query"
	case errors.Is(err, ErrQueryTooLong):
		return "query_too_long"
	case errors.Is(err, ErrInvalidRole):
		return "invalid_role"
	case errors.Is(err, ErrInvalidConversationID):
		return "invalid_conversation_id"
	}
	return ""
}

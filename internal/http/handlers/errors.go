// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable; clients branch on them rather
// than on messages. Every service error reaches the client through failErr,
// which maps the service error taxonomy onto one of these codes:
//
//	unauthenticated -> 401 unauthorized
//	forbidden       -> 403 forbidden
//	invalid input   -> 400 bad_request
//	transient       -> 503 unavailable (Retry-After)
//	fatal           -> 500 internal_error
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "forbidden",
//	  "message": "forbidden"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeUnavailable      = "unavailable"
	ErrCodeInternal         = "internal_error"
)

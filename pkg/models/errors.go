package models

import "errors"

// Error kinds shared across subsystems. Callers classify failures with
// errors.Is and the RPC layer maps each kind to an HTTP status.
var (
	ErrConnection      = errors.New("connection failed")
	ErrAuthentication  = errors.New("authentication failed")
	ErrValidation      = errors.New("validation failed")
	ErrResourceLimit   = errors.New("resource limit exceeded")
	ErrPolicyViolation = errors.New("policy violation")
	ErrAgreementState  = errors.New("invalid agreement state")
	ErrIntegrity       = errors.New("integrity check failed")
	ErrStorage         = errors.New("storage failure")
	ErrNotFound        = errors.New("not found")
	ErrInternalCrypto  = errors.New("crypto operation failed")
)

package format

import (
	"errors"
	"fmt"
)

// Error codes for programmatic handling. These are stable: hosts branch
// on them instead of matching message text.
const (
	ErrCodeCapacity         = "CAPACITY_EXCEEDED"
	ErrCodeIntegrity        = "INTEGRITY_FAILED"
	ErrCodeMalformedCarrier = "MALFORMED_CARRIER"
)

// CapacityError reports a message that does not fit the carrier. It is
// always raised before the carrier is touched.
type CapacityError struct {
	RequiredBits  int // ciphertext bits that need a slot
	AvailableBits int // carrier elements outside the reserved region
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("message too large for carrier: need %d bits, %d available",
		e.RequiredBits, e.AvailableBits)
}

// Code returns ErrCodeCapacity.
func (e *CapacityError) Code() string { return ErrCodeCapacity }

// IntegrityError means the tag did not verify. A wrong passphrase and a
// tampered carrier both end up here and are reported identically.
type IntegrityError struct{}

func (e *IntegrityError) Error() string {
	return "integrity check failed: wrong passphrase or tampered image"
}

// Code returns ErrCodeIntegrity.
func (e *IntegrityError) Code() string { return ErrCodeIntegrity }

// MalformedCarrierError is returned for buffers that cannot be carriers at all.
type MalformedCarrierError struct {
	Elements int
	Reason   string
}

func (e *MalformedCarrierError) Error() string {
	return fmt.Sprintf("malformed carrier (%d elements): %s", e.Elements, e.Reason)
}

// Code returns ErrCodeMalformedCarrier.
func (e *MalformedCarrierError) Code() string { return ErrCodeMalformedCarrier }

// IsCapacityError checks if err wraps a CapacityError and returns it if so
func IsCapacityError(err error) (*CapacityError, bool) {
	var target *CapacityError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// IsIntegrityError checks if err wraps an IntegrityError and returns it if so
func IsIntegrityError(err error) (*IntegrityError, bool) {
	var target *IntegrityError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// IsMalformedCarrierError checks if err wraps a MalformedCarrierError and returns it if so
func IsMalformedCarrierError(err error) (*MalformedCarrierError, bool) {
	var target *MalformedCarrierError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// ErrorCode returns the stable code of a typed carrier error, or "" for
// anything else.
func ErrorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return ""
}

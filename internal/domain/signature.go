package domain

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"
)

type SignatureMethod string

const (
	SignatureMethodCanvas    SignatureMethod = "canvas"
	SignatureMethodTyped     SignatureMethod = "typed"
	SignatureMethodBiometric SignatureMethod = "biometric"
)

func (m SignatureMethod) Valid() bool {
	switch m {
	case SignatureMethodCanvas, SignatureMethodTyped, SignatureMethodBiometric:
		return true
	default:
		return false
	}
}

// Geolocation is an optional capture coordinate pair.
type Geolocation struct {
	Latitude  float64
	Longitude float64
}

// SignatureRecord is the captured signing evidence for a lease. Records are
// immutable after creation; corrections require a new record.
type SignatureRecord struct {
	ID            string
	LeaseID       string
	ChallengeID   string
	Payload       []byte
	Method        SignatureMethod
	IntegrityHash string
	SignedAt      time.Time
	Location      *Geolocation
	ClientIP      string
	UserAgent     string
	CreatedAt     time.Time
}

// ComputeIntegrityHash digests the canonical payload bytes. The hash is
// always taken over raw bytes, never a display encoding, so verification is
// stable across representations.
func ComputeIntegrityHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// VerifyIntegrity recomputes the digest over the stored payload and compares
// it to the stored hash in constant time. False means the payload or the
// hash was altered after capture.
func (r SignatureRecord) VerifyIntegrity() bool {
	if r.IntegrityHash == "" {
		return false
	}
	computed := ComputeIntegrityHash(r.Payload)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(r.IntegrityHash)) == 1
}

func (r SignatureRecord) HasLocation() bool {
	return r.Location != nil
}

package model

import "time"

// Identity is one minted soulbound credential. An identity is bound to its
// owner for its whole lifetime: there is no transfer, only revocation followed
// by a fresh creation.
type Identity struct {
	ObjectType      string    `json:"objectType"`      // Set to the composite key object type (Identity)
	IDNumber        uint64    `json:"idNumber"`        // Sequential identity number, 0 is the "no identity" sentinel
	Owner           string    `json:"owner"`           // Full client identity ID of the holder
	MetadataPointer string    `json:"metadataPointer"` // Opaque reference to off-chain descriptive data
	CreatedAt       time.Time `json:"createdAt"`       // Transaction timestamp at creation, immutable
	ExpiresAt       time.Time `json:"expiresAt"`       // Zero value means the identity never expires
	IsVerified      bool      `json:"isVerified"`      // Set by trusted creation paths, flippable by a verifier
	IDType          string    `json:"idType"`          // Free-form category label, fixed at creation
	Fingerprint     string    `json:"fingerprint"`     // Hex form of the 32-byte commitment hash, globally unique
}

// Expires reports whether the identity carries an expiry timestamp at all.
func (id *Identity) Expires() bool {
	return !id.ExpiresAt.IsZero()
}

// IdentityRequest is a holder's ask to be issued an Identity. Requests are
// never deleted; they resolve exactly once to approved or rejected and stay
// queryable for audit.
type IdentityRequest struct {
	ObjectType      string    `json:"objectType"`      // Set to the composite key object type (IdentityRequest)
	RequestID       uint64    `json:"requestId"`       // Sequential request number, 0 is the "no request" sentinel
	Requester       string    `json:"requester"`       // Full client identity ID of the submitter
	MetadataPointer string    `json:"metadataPointer"` // Same semantics as Identity.MetadataPointer
	IDType          string    `json:"idType"`          // Category label declared by the requester
	Fingerprint     string    `json:"fingerprint"`     // Hex form of the 32-byte commitment hash
	RequestedAt     time.Time `json:"requestedAt"`     // Transaction timestamp at submission, immutable
	IsPending       bool      `json:"isPending"`       // True until the request is approved or rejected
	IsApproved      bool      `json:"isApproved"`      // IsApproved and IsRejected are never both true
	IsRejected      bool      `json:"isRejected"`
}

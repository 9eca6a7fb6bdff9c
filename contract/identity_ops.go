package contract

import (
	"encoding/json"
	"fmt"
	"time"

	"soulbound/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Identity Ledger Operations ---

// mintArgs carries everything mintIdentity needs; both creation paths
// (request approval and direct creation) funnel through it so the uniqueness
// indexes are always updated together with the record.
type mintArgs struct {
	owner           string
	metadataPointer string
	idType          string
	fingerprint     string // canonical form, already validated
	expirySeconds   uint64 // 0 = never expires
	now             time.Time
}

// mintIdentity writes a new verified identity and both index entries. Callers
// must have cleared the duplicate-owner and duplicate-fingerprint checks.
func (s *IdentityRegistryContract) mintIdentity(ctx contractapi.TransactionContextInterface, args mintArgs) (uint64, error) {
	idNumber, err := s.nextCounter(ctx, identityCounterName)
	if err != nil {
		return 0, err
	}

	var expiresAt time.Time
	if args.expirySeconds > 0 {
		expiresAt = args.now.Add(time.Duration(args.expirySeconds) * time.Second)
	}

	identity := model.Identity{
		ObjectType:      identityObjectType,
		IDNumber:        idNumber,
		Owner:           args.owner,
		MetadataPointer: args.metadataPointer,
		CreatedAt:       args.now,
		ExpiresAt:       expiresAt,
		IsVerified:      true,
		IDType:          args.idType,
		Fingerprint:     args.fingerprint,
	}
	if err := s.putIdentity(ctx, &identity); err != nil {
		return 0, err
	}

	walletKey, err := s.createWalletIndexKey(ctx, args.owner)
	if err != nil {
		return 0, fmt.Errorf("failed to create wallet index key for '%s': %w", args.owner, err)
	}
	if err := ctx.GetStub().PutState(walletKey, []byte(formatID(idNumber))); err != nil {
		return 0, fmt.Errorf("failed to save wallet index for '%s': %w", args.owner, err)
	}
	fpKey, err := s.createFingerprintIndexKey(ctx, args.fingerprint)
	if err != nil {
		return 0, fmt.Errorf("failed to create fingerprint index key: %w", err)
	}
	if err := ctx.GetStub().PutState(fpKey, []byte(formatID(idNumber))); err != nil {
		return 0, fmt.Errorf("failed to save fingerprint index: %w", err)
	}
	return idNumber, nil
}

// CreateIdentityDirect mints an identity without a prior request, for
// out-of-band onboarding. Admin-only. Unlike the approval path, the idType
// here is honored as supplied.
func (s *IdentityRegistryContract) CreateIdentityDirect(ctx contractapi.TransactionContextInterface,
	owner string, metadataPointer string, expirySeconds uint64, idType string, fingerprint string) (uint64, error) {

	rm := NewRoleManager(ctx)
	adminID, err := rm.RequireAdmin()
	if err != nil {
		return 0, err
	}

	if err := s.validateRequiredString(owner, "owner", maxMetadataPointerLength); err != nil {
		return 0, err
	}
	if err := s.validateOptionalString(metadataPointer, "metadataPointer", maxMetadataPointerLength); err != nil {
		return 0, err
	}
	if err := s.validateOptionalString(idType, "idType", maxIDTypeLength); err != nil {
		return 0, err
	}
	fp, err := canonicalFingerprint(fingerprint)
	if err != nil {
		return 0, err
	}

	existingID, err := s.identityIDForOwner(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("CreateIdentityDirect: %w", err)
	}
	if existingID != 0 {
		return 0, fmt.Errorf("%w: owner '%s' already holds identity %d", ErrDuplicateIdentity, owner, existingID)
	}
	claimedBy, err := s.identityIDForFingerprint(ctx, fp)
	if err != nil {
		return 0, fmt.Errorf("CreateIdentityDirect: %w", err)
	}
	if claimedBy != 0 {
		return 0, fmt.Errorf("%w: fingerprint is bound to identity %d", ErrDuplicateFingerprint, claimedBy)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return 0, fmt.Errorf("CreateIdentityDirect: %w", err)
	}
	idNumber, err := s.mintIdentity(ctx, mintArgs{
		owner:           owner,
		metadataPointer: metadataPointer,
		idType:          idType,
		fingerprint:     fp,
		expirySeconds:   expirySeconds,
		now:             now,
	})
	if err != nil {
		return 0, fmt.Errorf("CreateIdentityDirect: %w", err)
	}

	s.emitRegistryEvent(ctx, "IdentityCreated", map[string]interface{}{
		"idNumber":    idNumber,
		"owner":       owner,
		"fingerprint": fp,
		"idType":      idType,
		"actor":       adminID,
	})
	logger.Infof("Identity %d created directly for '%s' by admin '%s'", idNumber, owner, adminID)
	return idNumber, nil
}

// UpdateMetadata replaces an identity's metadata pointer. Allowed for the
// identity's owner and the admin; every other field is fixed at creation.
func (s *IdentityRegistryContract) UpdateMetadata(ctx contractapi.TransactionContextInterface,
	idNumber uint64, newPointer string) error {

	if err := s.validateOptionalString(newPointer, "newPointer", maxMetadataPointerLength); err != nil {
		return err
	}

	identity, err := s.getIdentityByID(ctx, idNumber)
	if err != nil {
		return err
	}

	rm := NewRoleManager(ctx)
	callerID, err := rm.GetCurrentCallerID()
	if err != nil {
		return fmt.Errorf("UpdateMetadata: failed to get caller identity: %w", err)
	}
	if callerID != identity.Owner {
		isAdmin, err := rm.IsAdmin(callerID)
		if err != nil {
			return fmt.Errorf("UpdateMetadata: %w", err)
		}
		if !isAdmin {
			return fmt.Errorf("%w: caller '%s' is neither the identity owner nor the admin", ErrUnauthorized, callerID)
		}
	}

	identity.MetadataPointer = newPointer
	if err := s.putIdentity(ctx, identity); err != nil {
		return fmt.Errorf("UpdateMetadata: %w", err)
	}

	s.emitRegistryEvent(ctx, "IdentityMetadataUpdated", map[string]interface{}{
		"idNumber": idNumber,
		"actor":    callerID,
	})
	logger.Infof("Metadata for identity %d updated by '%s'", idNumber, callerID)
	return nil
}

// VerifyIdentity marks an identity verified. Verifier-only. Re-verifying an
// already-verified identity is an error, not a no-op.
func (s *IdentityRegistryContract) VerifyIdentity(ctx contractapi.TransactionContextInterface, idNumber uint64) error {
	rm := NewRoleManager(ctx)
	verifierID, err := rm.RequireVerifier()
	if err != nil {
		return err
	}

	identity, err := s.getIdentityByID(ctx, idNumber)
	if err != nil {
		return err
	}
	if identity.IsVerified {
		return fmt.Errorf("%w: identity %d is already verified", ErrInvalidState, idNumber)
	}

	identity.IsVerified = true
	if err := s.putIdentity(ctx, identity); err != nil {
		return fmt.Errorf("VerifyIdentity: %w", err)
	}

	s.emitRegistryEvent(ctx, "IdentityVerified", map[string]interface{}{
		"idNumber": idNumber,
		"owner":    identity.Owner,
		"actor":    verifierID,
	})
	logger.Infof("Identity %d verified by '%s'", idNumber, verifierID)
	return nil
}

// RevokeIdentity deletes an identity record and frees both uniqueness-index
// slots, so the wallet and the fingerprint may be reused by a fresh creation.
// Allowed for the identity's owner, any verifier, the admin, and the contract
// owner. Destructive and irreversible: no tombstone remains, only the event.
func (s *IdentityRegistryContract) RevokeIdentity(ctx contractapi.TransactionContextInterface, idNumber uint64) error {
	identity, err := s.getIdentityByID(ctx, idNumber)
	if err != nil {
		return err
	}

	rm := NewRoleManager(ctx)
	callerID, err := rm.GetCurrentCallerID()
	if err != nil {
		return fmt.Errorf("RevokeIdentity: failed to get caller identity: %w", err)
	}
	allowed := callerID == identity.Owner
	if !allowed {
		if allowed, err = rm.IsVerifier(callerID); err != nil {
			return fmt.Errorf("RevokeIdentity: %w", err)
		}
	}
	if !allowed {
		if allowed, err = rm.IsAdmin(callerID); err != nil {
			return fmt.Errorf("RevokeIdentity: %w", err)
		}
	}
	if !allowed {
		if allowed, err = rm.IsOwner(callerID); err != nil {
			return fmt.Errorf("RevokeIdentity: %w", err)
		}
	}
	if !allowed {
		return fmt.Errorf("%w: caller '%s' may not revoke identity %d", ErrUnauthorized, callerID, idNumber)
	}

	identityKey, err := s.createIdentityKey(ctx, idNumber)
	if err != nil {
		return fmt.Errorf("RevokeIdentity: failed to create identity key: %w", err)
	}
	if err := ctx.GetStub().DelState(identityKey); err != nil {
		return fmt.Errorf("RevokeIdentity: failed to delete identity %d: %w", idNumber, err)
	}
	walletKey, err := s.createWalletIndexKey(ctx, identity.Owner)
	if err != nil {
		return fmt.Errorf("RevokeIdentity: failed to create wallet index key: %w", err)
	}
	if err := ctx.GetStub().DelState(walletKey); err != nil {
		return fmt.Errorf("RevokeIdentity: failed to free wallet index for '%s': %w", identity.Owner, err)
	}
	fpKey, err := s.createFingerprintIndexKey(ctx, identity.Fingerprint)
	if err != nil {
		return fmt.Errorf("RevokeIdentity: failed to create fingerprint index key: %w", err)
	}
	if err := ctx.GetStub().DelState(fpKey); err != nil {
		return fmt.Errorf("RevokeIdentity: failed to free fingerprint index: %w", err)
	}

	s.emitRegistryEvent(ctx, "IdentityRevoked", map[string]interface{}{
		"idNumber": idNumber,
		"owner":    identity.Owner,
		"actor":    callerID,
	})
	logger.Infof("Identity %d (owner '%s') revoked by '%s'", idNumber, identity.Owner, callerID)
	return nil
}

// --- Identity Queries ---

// GetIdentity returns an identity record by id number.
func (s *IdentityRegistryContract) GetIdentity(ctx contractapi.TransactionContextInterface, idNumber uint64) (*model.Identity, error) {
	logger.Debugf("Chaincode Call: GetIdentity for %d", idNumber)
	return s.getIdentityByID(ctx, idNumber)
}

// IsValid reports whether an identity exists, is verified, and has not
// expired. Total by design: a non-existent id yields false, never an error,
// because validity checks must be side-effect-free and safe to call blindly.
func (s *IdentityRegistryContract) IsValid(ctx contractapi.TransactionContextInterface, idNumber uint64) (bool, error) {
	logger.Debugf("Chaincode Call: IsValid for %d", idNumber)
	if idNumber == 0 {
		return false, nil
	}
	identityKey, err := s.createIdentityKey(ctx, idNumber)
	if err != nil {
		return false, fmt.Errorf("IsValid: failed to create identity key: %w", err)
	}
	identityBytes, err := ctx.GetStub().GetState(identityKey)
	if err != nil {
		return false, fmt.Errorf("IsValid: ledger error reading identity %d: %w", idNumber, err)
	}
	if identityBytes == nil {
		return false, nil
	}
	var identity model.Identity
	if err := json.Unmarshal(identityBytes, &identity); err != nil {
		return false, fmt.Errorf("IsValid: failed to unmarshal identity %d: %w", idNumber, err)
	}
	if !identity.IsVerified {
		return false, nil
	}
	if !identity.Expires() {
		return true, nil
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return false, fmt.Errorf("IsValid: %w", err)
	}
	return !now.After(identity.ExpiresAt), nil
}

// CheckFingerprintMatches compares a claimed fingerprint against the one
// stored on an identity. Exact byte equality of the canonical forms.
func (s *IdentityRegistryContract) CheckFingerprintMatches(ctx contractapi.TransactionContextInterface,
	idNumber uint64, claimedFingerprint string) (bool, error) {

	logger.Debugf("Chaincode Call: CheckFingerprintMatches for %d", idNumber)
	identity, err := s.getIdentityByID(ctx, idNumber)
	if err != nil {
		return false, err
	}
	fp, err := canonicalFingerprint(claimedFingerprint)
	if err != nil {
		return false, err
	}
	return identity.Fingerprint == fp, nil
}

// OwnerHasIdentity reports whether a wallet currently holds an identity.
func (s *IdentityRegistryContract) OwnerHasIdentity(ctx contractapi.TransactionContextInterface, fullID string) (bool, error) {
	logger.Debugf("Chaincode Call: OwnerHasIdentity for '%s'", fullID)
	idNumber, err := s.identityIDForOwner(ctx, fullID)
	if err != nil {
		return false, err
	}
	return idNumber != 0, nil
}

// IdentityIdOfOwner returns the identity id bound to a wallet, 0 if none.
func (s *IdentityRegistryContract) IdentityIdOfOwner(ctx contractapi.TransactionContextInterface, fullID string) (uint64, error) {
	logger.Debugf("Chaincode Call: IdentityIdOfOwner for '%s'", fullID)
	return s.identityIDForOwner(ctx, fullID)
}

// IdentityIdOfFingerprint returns the identity id a fingerprint is bound to,
// 0 if unclaimed.
func (s *IdentityRegistryContract) IdentityIdOfFingerprint(ctx contractapi.TransactionContextInterface, fingerprint string) (uint64, error) {
	logger.Debugf("Chaincode Call: IdentityIdOfFingerprint")
	fp, err := canonicalFingerprint(fingerprint)
	if err != nil {
		return 0, err
	}
	return s.identityIDForFingerprint(ctx, fp)
}

// --- Internal Helpers ---

// getIdentityByID retrieves and unmarshals an identity. A missing record and
// the zero-sentinel id both fail with ErrNotFound; a revoked identity is
// indistinguishable from one that never existed.
func (s *IdentityRegistryContract) getIdentityByID(ctx contractapi.TransactionContextInterface, idNumber uint64) (*model.Identity, error) {
	if idNumber == 0 {
		return nil, fmt.Errorf("%w: identity id 0 is the reserved sentinel", ErrNotFound)
	}
	identityKey, err := s.createIdentityKey(ctx, idNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to create key for identity %d: %w", idNumber, err)
	}
	identityBytes, err := ctx.GetStub().GetState(identityKey)
	if err != nil {
		return nil, fmt.Errorf("ledger error reading identity %d: %w", idNumber, err)
	}
	if identityBytes == nil {
		return nil, fmt.Errorf("%w: identity %d does not exist", ErrNotFound, idNumber)
	}
	var identity model.Identity
	if err := json.Unmarshal(identityBytes, &identity); err != nil {
		return nil, fmt.Errorf("failed to unmarshal identity %d: %w", idNumber, err)
	}
	return &identity, nil
}

func (s *IdentityRegistryContract) putIdentity(ctx contractapi.TransactionContextInterface, identity *model.Identity) error {
	identityBytes, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("failed to marshal identity %d: %w", identity.IDNumber, err)
	}
	identityKey, err := s.createIdentityKey(ctx, identity.IDNumber)
	if err != nil {
		return fmt.Errorf("failed to create key for identity %d: %w", identity.IDNumber, err)
	}
	if err := ctx.GetStub().PutState(identityKey, identityBytes); err != nil {
		return fmt.Errorf("failed to save identity %d: %w", identity.IDNumber, err)
	}
	return nil
}

package contract

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// Object types for composite keys, also usable as 'docType' in CouchDB.
const (
	identityObjectType       = "Identity"         // Identity records. Attribute: id number.
	requestObjectType        = "IdentityRequest"  // Request records. Attribute: request id.
	walletIndexObjectType    = "WalletIndex"      // Maps owner full ID -> identity id.
	fpIndexObjectType        = "FingerprintIndex" // Maps fingerprint hex -> identity id.
	requesterIndexObjectType = "RequesterIndex"   // Maps requester full ID -> JSON list of request ids.
	verifierFlagObjectType   = "VerifierFlag"     // Verifier status flag. Attribute: full ID.
	roleAddrObjectType       = "RoleAddr"         // Singleton role holders. Attribute: role name.
	counterObjectType        = "Counter"          // Sequential id counters. Attribute: counter name.
)

const (
	ownerRoleName = "owner"
	adminRoleName = "admin"

	identityCounterName = "identity"
	requestCounterName  = "request"
)

// Constants for input validation and limits.
const (
	fingerprintHexLength     = 64 // hex form of the 32-byte commitment hash
	maxMetadataPointerLength = 512
	maxIDTypeLength          = 128
	maxReasonLength          = 512

	// approvedIDType is stamped on every identity minted through request
	// approval, irrespective of the idType declared on the request; only
	// CreateIdentityDirect honors a caller-supplied idType.
	approvedIDType = "general"
)

// --- Core Helper Methods (used across multiple operations) ---

// getCurrentTxTimestamp retrieves the current transaction timestamp from the stub.
func (s *IdentityRegistryContract) getCurrentTxTimestamp(ctx contractapi.TransactionContextInterface) (time.Time, error) {
	ts, err := ctx.GetStub().GetTxTimestamp()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get transaction timestamp: %w", err)
	}
	return ts.AsTime(), nil
}

// --- Key Creation Helpers (using Composite Keys) ---

func (s *IdentityRegistryContract) createIdentityKey(ctx contractapi.TransactionContextInterface, idNumber uint64) (string, error) {
	return ctx.GetStub().CreateCompositeKey(identityObjectType, []string{formatID(idNumber)})
}

func (s *IdentityRegistryContract) createRequestKey(ctx contractapi.TransactionContextInterface, requestID uint64) (string, error) {
	return ctx.GetStub().CreateCompositeKey(requestObjectType, []string{formatID(requestID)})
}

func (s *IdentityRegistryContract) createWalletIndexKey(ctx contractapi.TransactionContextInterface, owner string) (string, error) {
	return ctx.GetStub().CreateCompositeKey(walletIndexObjectType, []string{owner})
}

func (s *IdentityRegistryContract) createFingerprintIndexKey(ctx contractapi.TransactionContextInterface, fingerprint string) (string, error) {
	return ctx.GetStub().CreateCompositeKey(fpIndexObjectType, []string{fingerprint})
}

func (s *IdentityRegistryContract) createRequesterIndexKey(ctx contractapi.TransactionContextInterface, requester string) (string, error) {
	return ctx.GetStub().CreateCompositeKey(requesterIndexObjectType, []string{requester})
}

func (s *IdentityRegistryContract) createCounterKey(ctx contractapi.TransactionContextInterface, name string) (string, error) {
	return ctx.GetStub().CreateCompositeKey(counterObjectType, []string{name})
}

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// --- Counters ---

// readCounter returns the last issued id for the named counter, 0 if none was
// ever issued. Ids start at 1; 0 is the "no entity" sentinel everywhere.
func (s *IdentityRegistryContract) readCounter(ctx contractapi.TransactionContextInterface, name string) (uint64, error) {
	counterKey, err := s.createCounterKey(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("failed to create counter key '%s': %w", name, err)
	}
	raw, err := ctx.GetStub().GetState(counterKey)
	if err != nil {
		return 0, fmt.Errorf("ledger error reading counter '%s': %w", name, err)
	}
	if raw == nil {
		return 0, nil
	}
	value, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt counter state for '%s': %w", name, err)
	}
	return value, nil
}

// nextCounter increments the named counter and returns the newly issued id.
func (s *IdentityRegistryContract) nextCounter(ctx contractapi.TransactionContextInterface, name string) (uint64, error) {
	current, err := s.readCounter(ctx, name)
	if err != nil {
		return 0, err
	}
	next := current + 1
	counterKey, err := s.createCounterKey(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("failed to create counter key '%s': %w", name, err)
	}
	if err := ctx.GetStub().PutState(counterKey, []byte(formatID(next))); err != nil {
		return 0, fmt.Errorf("failed to advance counter '%s': %w", name, err)
	}
	return next, nil
}

// --- Validation Helper Functions ---

func (s *IdentityRegistryContract) validateRequiredString(input, field string, max int) error {
	if strings.TrimSpace(input) == "" {
		return fmt.Errorf("%w: %s cannot be empty", ErrInvalidArgument, field)
	}
	if len(input) > max {
		return fmt.Errorf("%w: %s exceeds max length %d", ErrInvalidArgument, field, max)
	}
	return nil
}

func (s *IdentityRegistryContract) validateOptionalString(input, field string, max int) error {
	if input != "" && len(input) > max {
		return fmt.Errorf("%w: %s exceeds max length %d", ErrInvalidArgument, field, max)
	}
	return nil
}

// canonicalFingerprint validates a caller-supplied fingerprint and returns its
// canonical stored form. Fingerprints cross the chaincode boundary as the hex
// rendering of a 32-byte commitment hash; they are lowercased so that equal
// hashes always land on the same index slot.
func canonicalFingerprint(fingerprint string) (string, error) {
	fp := strings.ToLower(strings.TrimSpace(fingerprint))
	if len(fp) != fingerprintHexLength {
		return "", fmt.Errorf("%w: fingerprint must be %d hex characters, got %d", ErrInvalidArgument, fingerprintHexLength, len(fp))
	}
	if _, err := hex.DecodeString(fp); err != nil {
		return "", fmt.Errorf("%w: fingerprint is not valid hex: %v", ErrInvalidArgument, err)
	}
	return fp, nil
}

// --- Index Lookups ---

// identityIDForOwner returns the identity id bound to an owner, 0 if the
// wallet holds no identity.
func (s *IdentityRegistryContract) identityIDForOwner(ctx contractapi.TransactionContextInterface, owner string) (uint64, error) {
	indexKey, err := s.createWalletIndexKey(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("failed to create wallet index key for '%s': %w", owner, err)
	}
	return s.readIndexedID(ctx, indexKey)
}

// identityIDForFingerprint returns the identity id bound to a canonical
// fingerprint, 0 if the fingerprint is unclaimed.
func (s *IdentityRegistryContract) identityIDForFingerprint(ctx contractapi.TransactionContextInterface, fingerprint string) (uint64, error) {
	indexKey, err := s.createFingerprintIndexKey(ctx, fingerprint)
	if err != nil {
		return 0, fmt.Errorf("failed to create fingerprint index key: %w", err)
	}
	return s.readIndexedID(ctx, indexKey)
}

func (s *IdentityRegistryContract) readIndexedID(ctx contractapi.TransactionContextInterface, indexKey string) (uint64, error) {
	raw, err := ctx.GetStub().GetState(indexKey)
	if err != nil {
		return 0, fmt.Errorf("ledger error reading index '%s': %w", indexKey, err)
	}
	if raw == nil {
		return 0, nil
	}
	id, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt index state at '%s': %w", indexKey, err)
	}
	return id, nil
}

// requestIDsOf returns the request ids a requester has ever submitted, in
// submission order. Always a non-nil slice.
func (s *IdentityRegistryContract) requestIDsOf(ctx contractapi.TransactionContextInterface, requester string) ([]uint64, error) {
	indexKey, err := s.createRequesterIndexKey(ctx, requester)
	if err != nil {
		return nil, fmt.Errorf("failed to create requester index key for '%s': %w", requester, err)
	}
	raw, err := ctx.GetStub().GetState(indexKey)
	if err != nil {
		return nil, fmt.Errorf("ledger error reading requester index for '%s': %w", requester, err)
	}
	ids := []uint64{}
	if raw == nil {
		return ids, nil
	}
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("corrupt requester index for '%s': %w", requester, err)
	}
	return ids, nil
}

func (s *IdentityRegistryContract) appendRequesterIndex(ctx contractapi.TransactionContextInterface, requester string, requestID uint64) error {
	ids, err := s.requestIDsOf(ctx, requester)
	if err != nil {
		return err
	}
	ids = append(ids, requestID)
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to marshal requester index for '%s': %w", requester, err)
	}
	indexKey, err := s.createRequesterIndexKey(ctx, requester)
	if err != nil {
		return fmt.Errorf("failed to create requester index key for '%s': %w", requester, err)
	}
	if err := ctx.GetStub().PutState(indexKey, raw); err != nil {
		return fmt.Errorf("failed to save requester index for '%s': %w", requester, err)
	}
	return nil
}

// --- Events ---

// emitRegistryEvent sends a chaincode event. The event name is the transition
// type tag; the payload carries at least the entity id and the acting
// identity. Emission is a side effect of an already-committed mutation, never
// a gate, so failures are logged and swallowed.
func (s *IdentityRegistryContract) emitRegistryEvent(ctx contractapi.TransactionContextInterface, eventName string, payload map[string]interface{}) {
	for k, v := range payload {
		if t, ok := v.(time.Time); ok {
			payload[k] = t.Format(time.RFC3339)
		}
	}
	eventBytes, err := json.Marshal(payload)
	if err != nil {
		logger.Warningf("emitRegistryEvent: failed to marshal payload for event '%s': %v", eventName, err)
		return
	}
	if errSet := ctx.GetStub().SetEvent(eventName, eventBytes); errSet != nil {
		logger.Warningf("emitRegistryEvent: failed to set event '%s': %v", eventName, errSet)
	}
}

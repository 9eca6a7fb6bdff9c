package contract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var roleLogger = flogging.MustGetLogger("soulbound.rolemanager")

// RoleManager handles the registry's role store: the single contract owner,
// the single active admin, and the verifier set. Role predicates are pure
// reads over this store and every privileged entry point consults them before
// touching any other state, so authorization never drifts between operations.
//
// The role model: the owner can replace itself and the admin; the admin
// approves/rejects requests, mints identities, and manages the verifier set;
// verifiers flip verification status and may revoke. Owner and admin may be
// the same identity but need not be.
type RoleManager struct {
	Ctx contractapi.TransactionContextInterface
}

// NewRoleManager creates a new instance of RoleManager.
func NewRoleManager(ctx contractapi.TransactionContextInterface) *RoleManager {
	return &RoleManager{Ctx: ctx}
}

// --- Key Creation Helpers ---

func (rm *RoleManager) createRoleAddrKey(role string) (string, error) {
	return rm.Ctx.GetStub().CreateCompositeKey(roleAddrObjectType, []string{role})
}

func (rm *RoleManager) createVerifierFlagKey(fullID string) (string, error) {
	return rm.Ctx.GetStub().CreateCompositeKey(verifierFlagObjectType, []string{fullID})
}

// --- Role Store Reads ---

func (rm *RoleManager) roleAddress(role string) (string, error) {
	roleKey, err := rm.createRoleAddrKey(role)
	if err != nil {
		return "", fmt.Errorf("failed to create role key for '%s': %w", role, err)
	}
	raw, err := rm.Ctx.GetStub().GetState(roleKey)
	if err != nil {
		return "", fmt.Errorf("ledger error reading role '%s': %w", role, err)
	}
	if raw == nil {
		return "", nil
	}
	return string(raw), nil
}

// OwnerAddress returns the contract owner's full ID, empty before bootstrap.
func (rm *RoleManager) OwnerAddress() (string, error) {
	return rm.roleAddress(ownerRoleName)
}

// AdminAddress returns the active admin's full ID, empty before bootstrap.
func (rm *RoleManager) AdminAddress() (string, error) {
	return rm.roleAddress(adminRoleName)
}

// IsOwner reports whether fullID is the contract owner.
func (rm *RoleManager) IsOwner(fullID string) (bool, error) {
	owner, err := rm.OwnerAddress()
	if err != nil {
		return false, err
	}
	return owner != "" && owner == fullID, nil
}

// IsAdmin reports whether fullID is the active admin.
func (rm *RoleManager) IsAdmin(fullID string) (bool, error) {
	admin, err := rm.AdminAddress()
	if err != nil {
		return false, err
	}
	return admin != "" && admin == fullID, nil
}

// IsVerifier reports whether fullID carries the verifier flag.
func (rm *RoleManager) IsVerifier(fullID string) (bool, error) {
	flagKey, err := rm.createVerifierFlagKey(fullID)
	if err != nil {
		return false, fmt.Errorf("failed to create verifier flag key for '%s': %w", fullID, err)
	}
	flagBytes, err := rm.Ctx.GetStub().GetState(flagKey)
	if err != nil {
		return false, fmt.Errorf("ledger error checking verifier flag for '%s': %w", fullID, err)
	}
	return flagBytes != nil && string(flagBytes) == "true", nil
}

// Bootstrapped reports whether the registry has been through genesis.
func (rm *RoleManager) Bootstrapped() (bool, error) {
	owner, err := rm.OwnerAddress()
	if err != nil {
		return false, err
	}
	return owner != "", nil
}

// GetCurrentCallerID retrieves the full client identity ID of the transactor.
func (rm *RoleManager) GetCurrentCallerID() (string, error) {
	clientIdentity := rm.Ctx.GetClientIdentity()
	if clientIdentity == nil {
		return "", errors.New("client identity is nil from context")
	}
	id, err := clientIdentity.GetID()
	if err != nil {
		return "", fmt.Errorf("failed to get client identity ID from context: %w", err)
	}
	if id == "" {
		return "", errors.New("client identity ID from context is empty")
	}
	return id, nil
}

// --- Guard Clauses ---
// Each returns the caller's full ID so entry points can reuse it for event
// payloads without a second context lookup.

// RequireOwner fails with ErrUnauthorized unless the caller is the contract owner.
func (rm *RoleManager) RequireOwner() (string, error) {
	callerID, err := rm.GetCurrentCallerID()
	if err != nil {
		return "", fmt.Errorf("failed to resolve caller for owner check: %w", err)
	}
	isOwner, err := rm.IsOwner(callerID)
	if err != nil {
		return "", fmt.Errorf("failed to check owner status for '%s': %w", callerID, err)
	}
	if !isOwner {
		return "", fmt.Errorf("%w: caller '%s' is not the contract owner", ErrUnauthorized, callerID)
	}
	return callerID, nil
}

// RequireAdmin fails with ErrUnauthorized unless the caller is the active admin.
func (rm *RoleManager) RequireAdmin() (string, error) {
	callerID, err := rm.GetCurrentCallerID()
	if err != nil {
		return "", fmt.Errorf("failed to resolve caller for admin check: %w", err)
	}
	isAdmin, err := rm.IsAdmin(callerID)
	if err != nil {
		return "", fmt.Errorf("failed to check admin status for '%s': %w", callerID, err)
	}
	if !isAdmin {
		return "", fmt.Errorf("%w: caller '%s' is not the admin", ErrUnauthorized, callerID)
	}
	return callerID, nil
}

// RequireVerifier fails with ErrUnauthorized unless the caller is a verifier.
func (rm *RoleManager) RequireVerifier() (string, error) {
	callerID, err := rm.GetCurrentCallerID()
	if err != nil {
		return "", fmt.Errorf("failed to resolve caller for verifier check: %w", err)
	}
	isVerifier, err := rm.IsVerifier(callerID)
	if err != nil {
		return "", fmt.Errorf("failed to check verifier status for '%s': %w", callerID, err)
	}
	if !isVerifier {
		return "", fmt.Errorf("%w: caller '%s' is not a verifier", ErrUnauthorized, callerID)
	}
	return callerID, nil
}

// --- Role Store Mutations ---

func (rm *RoleManager) setRoleAddress(role, fullID string) error {
	roleKey, err := rm.createRoleAddrKey(role)
	if err != nil {
		return fmt.Errorf("failed to create role key for '%s': %w", role, err)
	}
	if err := rm.Ctx.GetStub().PutState(roleKey, []byte(fullID)); err != nil {
		return fmt.Errorf("failed to save role '%s': %w", role, err)
	}
	return nil
}

func (rm *RoleManager) setVerifierFlag(fullID string) error {
	flagKey, err := rm.createVerifierFlagKey(fullID)
	if err != nil {
		return fmt.Errorf("failed to create verifier flag key for '%s': %w", fullID, err)
	}
	if err := rm.Ctx.GetStub().PutState(flagKey, []byte("true")); err != nil {
		return fmt.Errorf("failed to set verifier flag for '%s': %w", fullID, err)
	}
	return nil
}

func (rm *RoleManager) clearVerifierFlag(fullID string) error {
	flagKey, err := rm.createVerifierFlagKey(fullID)
	if err != nil {
		return fmt.Errorf("failed to create verifier flag key for '%s': %w", fullID, err)
	}
	if err := rm.Ctx.GetStub().DelState(flagKey); err != nil {
		return fmt.Errorf("failed to clear verifier flag for '%s': %w", fullID, err)
	}
	return nil
}

// Bootstrap seeds the role store at genesis: the caller becomes owner, admin,
// and verifier in one step. Callers must have checked Bootstrapped first.
func (rm *RoleManager) Bootstrap(callerID string) error {
	if err := rm.setRoleAddress(ownerRoleName, callerID); err != nil {
		return err
	}
	if err := rm.setRoleAddress(adminRoleName, callerID); err != nil {
		return err
	}
	if err := rm.setVerifierFlag(callerID); err != nil {
		return err
	}
	roleLogger.Infof("Registry bootstrapped: '%s' is now owner, admin and verifier.", callerID)
	return nil
}

// ChangeAdmin replaces the active admin. Owner-only. The new admin is granted
// verifier status if it does not already hold it; the outgoing admin keeps
// whatever verifier status it had.
func (rm *RoleManager) ChangeAdmin(newAdmin string) (string, error) {
	callerID, err := rm.RequireOwner()
	if err != nil {
		return "", err
	}
	newAdmin = strings.TrimSpace(newAdmin)
	if newAdmin == "" {
		return "", fmt.Errorf("%w: new admin address cannot be empty", ErrInvalidArgument)
	}

	if err := rm.setRoleAddress(adminRoleName, newAdmin); err != nil {
		return "", err
	}
	isVerifier, err := rm.IsVerifier(newAdmin)
	if err != nil {
		return "", err
	}
	if !isVerifier {
		if err := rm.setVerifierFlag(newAdmin); err != nil {
			return "", err
		}
	}
	roleLogger.Infof("Admin changed to '%s' by owner '%s'.", newAdmin, callerID)
	return callerID, nil
}

// TransferOwnership replaces the contract owner. Owner-only; the owner role
// can only be handed over by its current holder.
func (rm *RoleManager) TransferOwnership(newOwner string) (string, error) {
	callerID, err := rm.RequireOwner()
	if err != nil {
		return "", err
	}
	newOwner = strings.TrimSpace(newOwner)
	if newOwner == "" {
		return "", fmt.Errorf("%w: new owner address cannot be empty", ErrInvalidArgument)
	}

	if err := rm.setRoleAddress(ownerRoleName, newOwner); err != nil {
		return "", err
	}
	roleLogger.Infof("Ownership transferred from '%s' to '%s'.", callerID, newOwner)
	return callerID, nil
}

// AddVerifier grants verifier status to an identity. Admin-only. Granting an
// existing verifier again is a no-op.
func (rm *RoleManager) AddVerifier(fullID string) (string, error) {
	callerID, err := rm.RequireAdmin()
	if err != nil {
		return "", err
	}
	fullID = strings.TrimSpace(fullID)
	if fullID == "" {
		return "", fmt.Errorf("%w: verifier address cannot be empty", ErrInvalidArgument)
	}

	isVerifier, err := rm.IsVerifier(fullID)
	if err != nil {
		return "", err
	}
	if isVerifier {
		roleLogger.Infof("Identity '%s' is already a verifier. No action needed.", fullID)
		return callerID, nil
	}
	if err := rm.setVerifierFlag(fullID); err != nil {
		return "", err
	}
	roleLogger.Infof("Verifier status granted to '%s' by admin '%s'.", fullID, callerID)
	return callerID, nil
}

// RemoveVerifier strips verifier status from an identity. Admin-only. The
// current admin and the contract owner cannot be stripped through this path.
func (rm *RoleManager) RemoveVerifier(fullID string) (string, error) {
	callerID, err := rm.RequireAdmin()
	if err != nil {
		return "", err
	}
	fullID = strings.TrimSpace(fullID)
	if fullID == "" {
		return "", fmt.Errorf("%w: verifier address cannot be empty", ErrInvalidArgument)
	}

	isAdmin, err := rm.IsAdmin(fullID)
	if err != nil {
		return "", err
	}
	if isAdmin {
		return "", fmt.Errorf("%w: cannot remove verifier status from the current admin", ErrUnauthorized)
	}
	isOwner, err := rm.IsOwner(fullID)
	if err != nil {
		return "", err
	}
	if isOwner {
		return "", fmt.Errorf("%w: cannot remove verifier status from the contract owner", ErrUnauthorized)
	}

	if err := rm.clearVerifierFlag(fullID); err != nil {
		return "", err
	}
	roleLogger.Infof("Verifier status removed from '%s' by admin '%s'.", fullID, callerID)
	return callerID, nil
}

package contract

import (
	"fmt"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var logger = flogging.MustGetLogger("soulbound.registry")

// IdentityRegistryContract issues, approves and validates soulbound identity
// records. It enforces one identity per wallet and one identity per
// fingerprint, runs the request/approval workflow, and manages the
// owner/admin/verifier role store.
// @contract:IdentityRegistryContract
type IdentityRegistryContract struct {
	contractapi.Contract
}

// Instantiate bootstraps the registry: the instantiating identity becomes
// contract owner, admin and verifier in one step. Re-running after genesis
// fails; ownership moves only via TransferOwnership afterwards.
func (s *IdentityRegistryContract) Instantiate(ctx contractapi.TransactionContextInterface) error {
	rm := NewRoleManager(ctx)

	bootstrapped, err := rm.Bootstrapped()
	if err != nil {
		return fmt.Errorf("Instantiate: failed to check bootstrap state: %w", err)
	}
	if bootstrapped {
		return fmt.Errorf("%w: registry is already bootstrapped", ErrInvalidState)
	}

	callerID, err := rm.GetCurrentCallerID()
	if err != nil {
		return fmt.Errorf("Instantiate: failed to get caller identity: %w", err)
	}
	if err := rm.Bootstrap(callerID); err != nil {
		return fmt.Errorf("Instantiate: %w", err)
	}

	s.emitRegistryEvent(ctx, "RoleChanged", map[string]interface{}{
		"change":  "bootstrap",
		"address": callerID,
		"actor":   callerID,
	})
	logger.Infof("IdentityRegistryContract instantiated by '%s'", callerID)
	return nil
}

// --- Role & Authorization Management (delegating to RoleManager) ---

// ChangeAdmin replaces the active admin with newAdmin. Owner-only; the new
// admin is also granted verifier status if absent.
func (s *IdentityRegistryContract) ChangeAdmin(ctx contractapi.TransactionContextInterface, newAdmin string) error {
	logger.Infof("Chaincode Call: ChangeAdmin to '%s'", newAdmin)
	callerID, err := NewRoleManager(ctx).ChangeAdmin(newAdmin)
	if err != nil {
		return err
	}
	s.emitRegistryEvent(ctx, "RoleChanged", map[string]interface{}{
		"change":  "admin",
		"address": newAdmin,
		"actor":   callerID,
	})
	return nil
}

// TransferOwnership hands the contract owner role to newOwner. Owner-only.
func (s *IdentityRegistryContract) TransferOwnership(ctx contractapi.TransactionContextInterface, newOwner string) error {
	logger.Infof("Chaincode Call: TransferOwnership to '%s'", newOwner)
	callerID, err := NewRoleManager(ctx).TransferOwnership(newOwner)
	if err != nil {
		return err
	}
	s.emitRegistryEvent(ctx, "RoleChanged", map[string]interface{}{
		"change":  "owner",
		"address": newOwner,
		"actor":   callerID,
	})
	return nil
}

// AddVerifier grants verifier status to an identity. Admin-only.
func (s *IdentityRegistryContract) AddVerifier(ctx contractapi.TransactionContextInterface, fullID string) error {
	logger.Infof("Chaincode Call: AddVerifier for '%s'", fullID)
	callerID, err := NewRoleManager(ctx).AddVerifier(fullID)
	if err != nil {
		return err
	}
	s.emitRegistryEvent(ctx, "RoleChanged", map[string]interface{}{
		"change":  "verifier-added",
		"address": fullID,
		"actor":   callerID,
	})
	return nil
}

// RemoveVerifier strips verifier status from an identity. Admin-only; the
// current admin and the contract owner cannot be stripped.
func (s *IdentityRegistryContract) RemoveVerifier(ctx contractapi.TransactionContextInterface, fullID string) error {
	logger.Infof("Chaincode Call: RemoveVerifier for '%s'", fullID)
	callerID, err := NewRoleManager(ctx).RemoveVerifier(fullID)
	if err != nil {
		return err
	}
	s.emitRegistryEvent(ctx, "RoleChanged", map[string]interface{}{
		"change":  "verifier-removed",
		"address": fullID,
		"actor":   callerID,
	})
	return nil
}

// IsAdmin reports whether fullID is the active admin.
func (s *IdentityRegistryContract) IsAdmin(ctx contractapi.TransactionContextInterface, fullID string) (bool, error) {
	logger.Debugf("Chaincode Call: IsAdmin for '%s'", fullID)
	return NewRoleManager(ctx).IsAdmin(fullID)
}

// IsVerifier reports whether fullID carries the verifier flag.
func (s *IdentityRegistryContract) IsVerifier(ctx contractapi.TransactionContextInterface, fullID string) (bool, error) {
	logger.Debugf("Chaincode Call: IsVerifier for '%s'", fullID)
	return NewRoleManager(ctx).IsVerifier(fullID)
}

// GetRegistryRoles returns the current owner and admin, for operational tooling.
func (s *IdentityRegistryContract) GetRegistryRoles(ctx contractapi.TransactionContextInterface) (map[string]string, error) {
	logger.Debug("Chaincode Call: GetRegistryRoles")
	rm := NewRoleManager(ctx)
	owner, err := rm.OwnerAddress()
	if err != nil {
		return nil, fmt.Errorf("GetRegistryRoles: %w", err)
	}
	admin, err := rm.AdminAddress()
	if err != nil {
		return nil, fmt.Errorf("GetRegistryRoles: %w", err)
	}
	return map[string]string{"owner": owner, "admin": admin}, nil
}

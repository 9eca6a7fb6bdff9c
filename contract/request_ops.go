package contract

import (
	"encoding/json"
	"fmt"

	"soulbound/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Request Workflow ---

// SubmitRequest records a holder's ask to be issued an identity and returns
// the assigned request id. Open to any caller. Fails if the caller already
// owns an identity, if the fingerprint is already bound to a minted identity,
// or if the caller has another pending request with the same fingerprint. The
// pending-duplicate scan covers the caller's own request list only; two
// different callers racing on the same fingerprint are arbitrated at approval
// time, when the loser fails the fingerprint-uniqueness re-check.
func (s *IdentityRegistryContract) SubmitRequest(ctx contractapi.TransactionContextInterface,
	metadataPointer string, idType string, fingerprint string) (uint64, error) {

	rm := NewRoleManager(ctx)
	callerID, err := rm.GetCurrentCallerID()
	if err != nil {
		return 0, fmt.Errorf("SubmitRequest: failed to get caller identity: %w", err)
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

	existingID, err := s.identityIDForOwner(ctx, callerID)
	if err != nil {
		return 0, fmt.Errorf("SubmitRequest: %w", err)
	}
	if existingID != 0 {
		return 0, fmt.Errorf("%w: caller '%s' already holds identity %d", ErrDuplicateIdentity, callerID, existingID)
	}
	claimedBy, err := s.identityIDForFingerprint(ctx, fp)
	if err != nil {
		return 0, fmt.Errorf("SubmitRequest: %w", err)
	}
	if claimedBy != 0 {
		return 0, fmt.Errorf("%w: fingerprint is bound to identity %d", ErrDuplicateFingerprint, claimedBy)
	}

	ownRequestIDs, err := s.requestIDsOf(ctx, callerID)
	if err != nil {
		return 0, fmt.Errorf("SubmitRequest: %w", err)
	}
	for _, requestID := range ownRequestIDs {
		request, err := s.getRequestByID(ctx, requestID)
		if err != nil {
			return 0, fmt.Errorf("SubmitRequest: failed to inspect own request %d: %w", requestID, err)
		}
		if request.IsPending && request.Fingerprint == fp {
			return 0, fmt.Errorf("%w: request %d is still pending", ErrDuplicatePendingRequest, requestID)
		}
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return 0, fmt.Errorf("SubmitRequest: %w", err)
	}
	requestID, err := s.nextCounter(ctx, requestCounterName)
	if err != nil {
		return 0, fmt.Errorf("SubmitRequest: %w", err)
	}

	request := model.IdentityRequest{
		ObjectType:      requestObjectType,
		RequestID:       requestID,
		Requester:       callerID,
		MetadataPointer: metadataPointer,
		IDType:          idType,
		Fingerprint:     fp,
		RequestedAt:     now,
		IsPending:       true,
	}
	if err := s.putRequest(ctx, &request); err != nil {
		return 0, fmt.Errorf("SubmitRequest: %w", err)
	}
	if err := s.appendRequesterIndex(ctx, callerID, requestID); err != nil {
		return 0, fmt.Errorf("SubmitRequest: %w", err)
	}

	s.emitRegistryEvent(ctx, "IdentityRequested", map[string]interface{}{
		"requestId":   requestID,
		"requester":   callerID,
		"fingerprint": fp,
		"actor":       callerID,
	})
	logger.Infof("Identity request %d submitted by '%s'", requestID, callerID)
	return requestID, nil
}

// ApproveRequest resolves a pending request by minting an identity for its
// requester and returns the new identity number. Admin-only. Both uniqueness
// invariants are re-validated here because registry state may have changed
// between submission and approval.
//
// The minted identity's idType is the constant default, not the idType the
// request declared; only CreateIdentityDirect honors a caller-supplied idType.
func (s *IdentityRegistryContract) ApproveRequest(ctx contractapi.TransactionContextInterface,
	requestID uint64, expirySeconds uint64) (uint64, error) {

	rm := NewRoleManager(ctx)
	adminID, err := rm.RequireAdmin()
	if err != nil {
		return 0, err
	}

	request, err := s.getRequestByID(ctx, requestID)
	if err != nil {
		return 0, err
	}
	if !request.IsPending {
		return 0, fmt.Errorf("%w: request %d is not pending", ErrInvalidState, requestID)
	}

	existingID, err := s.identityIDForOwner(ctx, request.Requester)
	if err != nil {
		return 0, fmt.Errorf("ApproveRequest: %w", err)
	}
	if existingID != 0 {
		return 0, fmt.Errorf("%w: requester '%s' already holds identity %d", ErrDuplicateIdentity, request.Requester, existingID)
	}
	claimedBy, err := s.identityIDForFingerprint(ctx, request.Fingerprint)
	if err != nil {
		return 0, fmt.Errorf("ApproveRequest: %w", err)
	}
	if claimedBy != 0 {
		return 0, fmt.Errorf("%w: fingerprint is bound to identity %d", ErrDuplicateFingerprint, claimedBy)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return 0, fmt.Errorf("ApproveRequest: %w", err)
	}
	idNumber, err := s.mintIdentity(ctx, mintArgs{
		owner:           request.Requester,
		metadataPointer: request.MetadataPointer,
		idType:          approvedIDType,
		fingerprint:     request.Fingerprint,
		expirySeconds:   expirySeconds,
		now:             now,
	})
	if err != nil {
		return 0, fmt.Errorf("ApproveRequest: %w", err)
	}

	request.IsPending = false
	request.IsApproved = true
	if err := s.putRequest(ctx, request); err != nil {
		return 0, fmt.Errorf("ApproveRequest: %w", err)
	}

	s.emitRegistryEvent(ctx, "IdentityRequestApproved", map[string]interface{}{
		"requestId": requestID,
		"requester": request.Requester,
		"idNumber":  idNumber,
		"actor":     adminID,
	})
	s.emitRegistryEvent(ctx, "IdentityCreated", map[string]interface{}{
		"idNumber":    idNumber,
		"owner":       request.Requester,
		"fingerprint": request.Fingerprint,
		"idType":      approvedIDType,
		"actor":       adminID,
	})
	logger.Infof("Request %d approved by admin '%s', identity %d minted for '%s'", requestID, adminID, idNumber, request.Requester)
	return idNumber, nil
}

// RejectRequest resolves a pending request without minting. Admin-only. The
// rejection reason is recorded on the emitted event only, never persisted on
// the request record.
func (s *IdentityRegistryContract) RejectRequest(ctx contractapi.TransactionContextInterface,
	requestID uint64, reason string) error {

	rm := NewRoleManager(ctx)
	adminID, err := rm.RequireAdmin()
	if err != nil {
		return err
	}
	if err := s.validateOptionalString(reason, "reason", maxReasonLength); err != nil {
		return err
	}

	request, err := s.getRequestByID(ctx, requestID)
	if err != nil {
		return err
	}
	if !request.IsPending {
		return fmt.Errorf("%w: request %d is not pending", ErrInvalidState, requestID)
	}

	request.IsPending = false
	request.IsRejected = true
	if err := s.putRequest(ctx, request); err != nil {
		return fmt.Errorf("RejectRequest: %w", err)
	}

	s.emitRegistryEvent(ctx, "IdentityRequestRejected", map[string]interface{}{
		"requestId": requestID,
		"requester": request.Requester,
		"reason":    reason,
		"actor":     adminID,
	})
	logger.Infof("Request %d rejected by admin '%s'. Reason: %s", requestID, adminID, reason)
	return nil
}

// --- Request Queries ---

// GetRequestDetails returns a request by id, for audit.
func (s *IdentityRegistryContract) GetRequestDetails(ctx contractapi.TransactionContextInterface, requestID uint64) (*model.IdentityRequest, error) {
	logger.Debugf("Chaincode Call: GetRequestDetails for %d", requestID)
	return s.getRequestByID(ctx, requestID)
}

// GetRequestsOf returns every request id an address has ever submitted, in
// submission order. Always a non-nil slice.
func (s *IdentityRegistryContract) GetRequestsOf(ctx contractapi.TransactionContextInterface, fullID string) ([]uint64, error) {
	logger.Debugf("Chaincode Call: GetRequestsOf '%s'", fullID)
	return s.requestIDsOf(ctx, fullID)
}

// ListPendingRequestIds returns the ids of all unresolved requests. Linear
// scan over the full historical id range; admin-facing and infrequent, so the
// O(n) cost is accepted.
func (s *IdentityRegistryContract) ListPendingRequestIds(ctx contractapi.TransactionContextInterface) ([]uint64, error) {
	logger.Debug("Chaincode Call: ListPendingRequestIds")

	lastIssued, err := s.readCounter(ctx, requestCounterName)
	if err != nil {
		return nil, fmt.Errorf("ListPendingRequestIds: %w", err)
	}

	pending := []uint64{}
	for requestID := uint64(1); requestID <= lastIssued; requestID++ {
		request, err := s.getRequestByID(ctx, requestID)
		if err != nil {
			return nil, fmt.Errorf("ListPendingRequestIds: failed to read request %d: %w", requestID, err)
		}
		if request.IsPending {
			pending = append(pending, requestID)
		}
	}
	return pending, nil
}

// --- Internal Helpers ---

// getRequestByID retrieves and unmarshals a request. A missing record, the
// zero-sentinel id, and a zero-address requester all fail with ErrNotFound.
func (s *IdentityRegistryContract) getRequestByID(ctx contractapi.TransactionContextInterface, requestID uint64) (*model.IdentityRequest, error) {
	if requestID == 0 {
		return nil, fmt.Errorf("%w: request id 0 is the reserved sentinel", ErrNotFound)
	}
	requestKey, err := s.createRequestKey(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to create key for request %d: %w", requestID, err)
	}
	requestBytes, err := ctx.GetStub().GetState(requestKey)
	if err != nil {
		return nil, fmt.Errorf("ledger error reading request %d: %w", requestID, err)
	}
	if requestBytes == nil {
		return nil, fmt.Errorf("%w: request %d does not exist", ErrNotFound, requestID)
	}
	var request model.IdentityRequest
	if err := json.Unmarshal(requestBytes, &request); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request %d: %w", requestID, err)
	}
	if request.Requester == "" {
		return nil, fmt.Errorf("%w: request %d has no requester", ErrNotFound, requestID)
	}
	return &request, nil
}

func (s *IdentityRegistryContract) putRequest(ctx contractapi.TransactionContextInterface, request *model.IdentityRequest) error {
	requestBytes, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request %d: %w", request.RequestID, err)
	}
	requestKey, err := s.createRequestKey(ctx, request.RequestID)
	if err != nil {
		return fmt.Errorf("failed to create key for request %d: %w", request.RequestID, err)
	}
	if err := ctx.GetStub().PutState(requestKey, requestBytes); err != nil {
		return fmt.Errorf("failed to save request %d: %w", request.RequestID, err)
	}
	return nil
}

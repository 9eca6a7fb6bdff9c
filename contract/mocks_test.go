package contract

import (
	"bytes"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"soulbound/model"

	"github.com/hyperledger/fabric-chaincode-go/pkg/cid"
	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-protos-go/ledger/queryresult"
	"github.com/hyperledger/fabric-protos-go/peer"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// In-memory stand-ins for the Fabric transaction context, world state and
// client identity, so contract logic runs against a deterministic ledger with
// a controllable transaction clock.

const mockCompositeKeySep = "\x00"

type mockEvent struct {
	name    string
	payload []byte
}

type mockStub struct {
	state  map[string][]byte
	events []mockEvent
	txTime time.Time
}

func newMockStub() *mockStub {
	return &mockStub{
		state:  map[string][]byte{},
		txTime: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (ms *mockStub) GetState(key string) ([]byte, error) {
	value, ok := ms.state[key]
	if !ok {
		return nil, nil
	}
	return value, nil
}

func (ms *mockStub) PutState(key string, value []byte) error {
	ms.state[key] = value
	return nil
}

func (ms *mockStub) DelState(key string) error {
	delete(ms.state, key)
	return nil
}

func (ms *mockStub) CreateCompositeKey(objectType string, attributes []string) (string, error) {
	ck := mockCompositeKeySep + objectType + mockCompositeKeySep
	for _, attr := range attributes {
		ck += attr + mockCompositeKeySep
	}
	return ck, nil
}

func (ms *mockStub) SplitCompositeKey(compositeKey string) (string, []string, error) {
	parts := strings.Split(strings.Trim(compositeKey, mockCompositeKeySep), mockCompositeKeySep)
	if len(parts) < 1 {
		return "", nil, errors.New("malformed composite key")
	}
	return parts[0], parts[1:], nil
}

func (ms *mockStub) GetStateByPartialCompositeKey(objectType string, keys []string) (shim.StateQueryIteratorInterface, error) {
	prefix := mockCompositeKeySep + objectType + mockCompositeKeySep
	for _, attr := range keys {
		prefix += attr + mockCompositeKeySep
	}
	matching := []string{}
	for key := range ms.state {
		if strings.HasPrefix(key, prefix) {
			matching = append(matching, key)
		}
	}
	sort.Strings(matching)
	results := make([]*queryresult.KV, 0, len(matching))
	for _, key := range matching {
		results = append(results, &queryresult.KV{Key: key, Value: ms.state[key]})
	}
	return &mockStateIterator{results: results}, nil
}

func (ms *mockStub) GetTxTimestamp() (*timestamppb.Timestamp, error) {
	return timestamppb.New(ms.txTime), nil
}

func (ms *mockStub) SetEvent(name string, payload []byte) error {
	ms.events = append(ms.events, mockEvent{name: name, payload: payload})
	return nil
}

// Remaining ChaincodeStubInterface methods are not exercised by the registry.

func (ms *mockStub) GetArgs() [][]byte                      { return nil }
func (ms *mockStub) GetStringArgs() []string                { return nil }
func (ms *mockStub) GetFunctionAndParameters() (string, []string) { return "", nil }
func (ms *mockStub) GetArgsSlice() ([]byte, error)          { return nil, nil }
func (ms *mockStub) GetTxID() string                        { return "mock-tx" }
func (ms *mockStub) GetChannelID() string                   { return "mock-channel" }
func (ms *mockStub) InvokeChaincode(string, [][]byte, string) peer.Response {
	return peer.Response{}
}
func (ms *mockStub) SetStateValidationParameter(string, []byte) error { return nil }
func (ms *mockStub) GetStateValidationParameter(string) ([]byte, error) {
	return nil, nil
}
func (ms *mockStub) GetStateByRange(string, string) (shim.StateQueryIteratorInterface, error) {
	return nil, errors.New("not implemented in mock")
}
func (ms *mockStub) GetStateByRangeWithPagination(string, string, int32, string) (shim.StateQueryIteratorInterface, *peer.QueryResponseMetadata, error) {
	return nil, nil, errors.New("not implemented in mock")
}
func (ms *mockStub) GetStateByPartialCompositeKeyWithPagination(string, []string, int32, string) (shim.StateQueryIteratorInterface, *peer.QueryResponseMetadata, error) {
	return nil, nil, errors.New("not implemented in mock")
}
func (ms *mockStub) GetQueryResult(string) (shim.StateQueryIteratorInterface, error) {
	return nil, errors.New("not implemented in mock")
}
func (ms *mockStub) GetQueryResultWithPagination(string, int32, string) (shim.StateQueryIteratorInterface, *peer.QueryResponseMetadata, error) {
	return nil, nil, errors.New("not implemented in mock")
}
func (ms *mockStub) GetHistoryForKey(string) (shim.HistoryQueryIteratorInterface, error) {
	return nil, errors.New("not implemented in mock")
}
func (ms *mockStub) GetPrivateData(string, string) ([]byte, error)     { return nil, nil }
func (ms *mockStub) GetPrivateDataHash(string, string) ([]byte, error) { return nil, nil }
func (ms *mockStub) PutPrivateData(string, string, []byte) error       { return nil }
func (ms *mockStub) DelPrivateData(string, string) error               { return nil }
func (ms *mockStub) PurgePrivateData(string, string) error             { return nil }
func (ms *mockStub) SetPrivateDataValidationParameter(string, string, []byte) error {
	return nil
}
func (ms *mockStub) GetPrivateDataValidationParameter(string, string) ([]byte, error) {
	return nil, nil
}
func (ms *mockStub) GetPrivateDataByRange(string, string, string) (shim.StateQueryIteratorInterface, error) {
	return nil, errors.New("not implemented in mock")
}
func (ms *mockStub) GetPrivateDataByPartialCompositeKey(string, string, []string) (shim.StateQueryIteratorInterface, error) {
	return nil, errors.New("not implemented in mock")
}
func (ms *mockStub) GetPrivateDataQueryResult(string, string) (shim.StateQueryIteratorInterface, error) {
	return nil, errors.New("not implemented in mock")
}
func (ms *mockStub) GetCreator() ([]byte, error)            { return nil, nil }
func (ms *mockStub) GetTransient() (map[string][]byte, error) { return nil, nil }
func (ms *mockStub) GetBinding() ([]byte, error)            { return nil, nil }
func (ms *mockStub) GetDecorations() map[string][]byte      { return nil }
func (ms *mockStub) GetSignedProposal() (*peer.SignedProposal, error) {
	return nil, nil
}

type mockStateIterator struct {
	results []*queryresult.KV
	pos     int
}

func (it *mockStateIterator) HasNext() bool { return it.pos < len(it.results) }

func (it *mockStateIterator) Next() (*queryresult.KV, error) {
	if !it.HasNext() {
		return nil, errors.New("iterator exhausted")
	}
	kv := it.results[it.pos]
	it.pos++
	return kv, nil
}

func (it *mockStateIterator) Close() error { return nil }

type mockClientIdentity struct {
	id  string
	msp string
}

func (m *mockClientIdentity) GetID() (string, error)    { return m.id, nil }
func (m *mockClientIdentity) GetMSPID() (string, error) { return m.msp, nil }
func (m *mockClientIdentity) GetAttributeValue(string) (string, bool, error) {
	return "", false, nil
}
func (m *mockClientIdentity) AssertAttributeValue(string, string) error { return nil }
func (m *mockClientIdentity) GetX509Certificate() (*x509.Certificate, error) {
	return nil, nil
}

type mockTransactionContext struct {
	stub   *mockStub
	client *mockClientIdentity
}

func (m *mockTransactionContext) GetStub() shim.ChaincodeStubInterface { return m.stub }
func (m *mockTransactionContext) GetClientIdentity() cid.ClientIdentity { return m.client }

// --- Fixture ---

const (
	ownerID    = "x509::CN=root::OU=admin::O=Org1"
	aliceID    = "x509::CN=alice::OU=client::O=Org1"
	bobID      = "x509::CN=bob::OU=client::O=Org1"
	carolID    = "x509::CN=carol::OU=client::O=Org2"
	veraID     = "x509::CN=vera::OU=client::O=Org1"
	malloryID  = "x509::CN=mallory::OU=client::O=Org2"
)

// registryFixture wires a bootstrapped registry to a fresh mock ledger. The
// instantiating identity (ownerID) starts as owner, admin and verifier.
type registryFixture struct {
	t        *testing.T
	registry *IdentityRegistryContract
	stub     *mockStub
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()
	f := &registryFixture{
		t:        t,
		registry: &IdentityRegistryContract{},
		stub:     newMockStub(),
	}
	require.NoError(t, f.registry.Instantiate(f.as(ownerID)))
	f.clearEvents()
	return f
}

// as returns a transaction context acting as the given identity against the
// shared mock ledger.
func (f *registryFixture) as(fullID string) *mockTransactionContext {
	return &mockTransactionContext{
		stub:   f.stub,
		client: &mockClientIdentity{id: fullID, msp: "Org1MSP"},
	}
}

func (f *registryFixture) advanceClock(d time.Duration) {
	f.stub.txTime = f.stub.txTime.Add(d)
}

func (f *registryFixture) clearEvents() {
	f.stub.events = nil
}

func (f *registryFixture) eventNames() []string {
	names := make([]string, 0, len(f.stub.events))
	for _, ev := range f.stub.events {
		names = append(names, ev.name)
	}
	return names
}

// seedIdentity writes an identity record and its index entries straight into
// the mock ledger, bypassing the creation paths. Used to reach states the
// public API cannot produce, such as an unverified identity.
func (f *registryFixture) seedIdentity(identity model.Identity) {
	f.t.Helper()
	ctx := f.as(ownerID)
	identity.ObjectType = identityObjectType
	require.NoError(f.t, f.registry.putIdentity(ctx, &identity))

	walletKey, err := f.registry.createWalletIndexKey(ctx, identity.Owner)
	require.NoError(f.t, err)
	require.NoError(f.t, f.stub.PutState(walletKey, []byte(formatID(identity.IDNumber))))
	fpKey, err := f.registry.createFingerprintIndexKey(ctx, identity.Fingerprint)
	require.NoError(f.t, err)
	require.NoError(f.t, f.stub.PutState(fpKey, []byte(formatID(identity.IDNumber))))

	counterKey, err := f.registry.createCounterKey(ctx, identityCounterName)
	require.NoError(f.t, err)
	last, err := f.registry.readCounter(ctx, identityCounterName)
	require.NoError(f.t, err)
	if identity.IDNumber > last {
		require.NoError(f.t, f.stub.PutState(counterKey, []byte(formatID(identity.IDNumber))))
	}
}

// fingerprintHex renders a deterministic 32-byte commitment hash in the hex
// form the chaincode API expects.
func fingerprintHex(seed byte) string {
	return hex.EncodeToString(bytes.Repeat([]byte{seed}, 32))
}

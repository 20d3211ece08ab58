package contact

import (
	"context"
	"encoding/json"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kavachlabs/erpsync/pkg/entitymap"
	"github.com/kavachlabs/erpsync/pkg/registry"
	"github.com/kavachlabs/erpsync/pkg/rpcclient"
)

type fakeTransport struct {
	nextResult interface{}
	nextErr    error
	authed     bool
}

func (f *fakeTransport) Authenticate(ctx context.Context, db, username, password string) (int64, error) {
	f.authed = true
	return 1, nil
}

func (f *fakeTransport) Execute(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	return f.nextResult, f.nextErr
}

func (f *fakeTransport) CurrentUserID() (int64, bool) { return 1, f.authed }
func (f *fakeTransport) Reset()                       { f.authed = false }

func newTestModule(t *testing.T, ft *fakeTransport) *Module {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	store, err := entitymap.New(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	client := rpcclient.New(ft, rpcclient.Credentials{})
	return New(client, store)
}

func TestPushCreatesWhenNoRemoteID(t *testing.T) {
	ft := &fakeTransport{nextResult: int64(99)}
	m := newTestModule(t, ft)

	payload, _ := json.Marshal(Record{Name: "Ada", Email: "ada@example.com"})
	localID := int64(1)
	result := m.Push(registry.Job{Tenant: "t1", LocalID: &localID, Payload: string(payload)})

	if result.Failed {
		t.Fatalf("expected success, got failure: %s", result.Message)
	}
	if result.RemoteID == nil || *result.RemoteID != 99 {
		t.Fatalf("expected remote id 99, got %v", result.RemoteID)
	}
}

func TestPushUpdatesWhenRemoteIDPresent(t *testing.T) {
	ft := &fakeTransport{nextResult: true}
	m := newTestModule(t, ft)

	payload, _ := json.Marshal(Record{Name: "Ada", Email: "ada@example.com"})
	localID, remoteID := int64(1), int64(42)
	result := m.Push(registry.Job{Tenant: "t1", LocalID: &localID, RemoteID: &remoteID, Payload: string(payload)})

	if result.Failed {
		t.Fatalf("expected success, got failure: %s", result.Message)
	}
	if result.RemoteID == nil || *result.RemoteID != 42 {
		t.Fatalf("expected remote id 42 passed through, got %v", result.RemoteID)
	}
}

func TestPushMalformedPayloadIsNonRetryable(t *testing.T) {
	ft := &fakeTransport{}
	m := newTestModule(t, ft)

	result := m.Push(registry.Job{Tenant: "t1", Payload: "not json"})
	if !result.Failed || result.Retryable {
		t.Fatalf("expected non-retryable failure, got %+v", result)
	}
}

func TestPullReadsRemoteRecord(t *testing.T) {
	ft := &fakeTransport{nextResult: []interface{}{map[string]interface{}{
		"name": "Grace", "email": "grace@example.com", "phone": "555",
	}}}
	m := newTestModule(t, ft)

	remoteID := int64(7)
	result := m.Pull(registry.Job{Tenant: "t1", RemoteID: &remoteID})
	if result.Failed {
		t.Fatalf("expected success, got failure: %s", result.Message)
	}
}

func TestPullWithoutRemoteIDFails(t *testing.T) {
	ft := &fakeTransport{}
	m := newTestModule(t, ft)

	result := m.Pull(registry.Job{Tenant: "t1"})
	if !result.Failed {
		t.Fatal("expected failure when remote id is missing")
	}
}

func TestModuleContractBasics(t *testing.T) {
	m := newTestModule(t, &fakeTransport{})
	if m.ID() != "contact" {
		t.Errorf("unexpected id %q", m.ID())
	}
	if m.ExclusiveGroup() != "" {
		t.Errorf("expected no exclusive group")
	}
	if !m.DependencyStatus().Available {
		t.Error("expected dependency status available")
	}
	if m.RemoteModels()["contact"] != "res.partner" {
		t.Error("expected contact -> res.partner mapping")
	}
}

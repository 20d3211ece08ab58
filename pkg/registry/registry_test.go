package registry

import "testing"

type stubModule struct {
	id    string
	group string
}

func (s stubModule) ID() string                       { return s.id }
func (s stubModule) RemoteModels() map[string]string  { return map[string]string{"contact": "res.partner"} }
func (s stubModule) ExclusiveGroup() string            { return s.group }
func (s stubModule) DependencyStatus() DependencyStatus { return DependencyStatus{Available: true} }
func (s stubModule) Push(job Job) Result               { return Ok(nil) }
func (s stubModule) Pull(job Job) Result                { return Ok(nil) }

func TestRegisterAndGet(t *testing.T) {
	r := New()
	r.Register(stubModule{id: "crm"})

	if r.Get("crm") == nil {
		t.Fatal("expected crm to be registered")
	}
	if r.Get("missing") != nil {
		t.Fatal("expected nil for unknown module")
	}
	if !r.IsEnabled("crm") {
		t.Fatal("expected newly registered module to default to enabled")
	}
}

func TestEnableDisablesExclusivePeers(t *testing.T) {
	r := New()
	r.Register(stubModule{id: "crm-v1", group: "crm"})
	r.Register(stubModule{id: "crm-v2", group: "crm"})
	r.Register(stubModule{id: "inventory"})

	disabled, err := r.Enable("crm-v2", true)
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	if len(disabled) != 1 || disabled[0] != "crm-v1" {
		t.Fatalf("expected crm-v1 disabled, got %v", disabled)
	}
	if r.IsEnabled("crm-v1") {
		t.Fatal("expected crm-v1 to be disabled")
	}
	if !r.IsEnabled("inventory") {
		t.Fatal("inventory should be unaffected")
	}
}

func TestConflictsOnlyReportsEnabledPeers(t *testing.T) {
	r := New()
	r.Register(stubModule{id: "a", group: "g"})
	r.Register(stubModule{id: "b", group: "g"})
	r.Enable("b", false)

	conflicts := r.Conflicts("a")
	if len(conflicts) != 0 {
		t.Fatalf("expected no conflicts once b is disabled, got %v", conflicts)
	}
}

func TestEnableUnknownModuleErrors(t *testing.T) {
	r := New()
	if _, err := r.Enable("nope", true); err == nil {
		t.Fatal("expected error enabling an unregistered module")
	}
}

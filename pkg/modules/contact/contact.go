// Package contact is the reference module implementation: it syncs a
// single entity_type "contact" against the remote "res.partner" model,
// showing the shape every other module follows.
package contact

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kavachlabs/erpsync/pkg/entitymap"
	"github.com/kavachlabs/erpsync/pkg/registry"
	"github.com/kavachlabs/erpsync/pkg/rpcclient"
	"github.com/kavachlabs/erpsync/pkg/syncerr"
)

const (
	moduleID    = "contact"
	entityType  = "contact"
	remoteModel = "res.partner"
)

// Record is the local shape this module pushes/pulls. Modules are free
// to define whatever local shape fits their domain; the engine only ever
// passes the job's opaque JSON payload through.
type Record struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// Module syncs Record against res.partner.
type Module struct {
	client *rpcclient.Client
	entMap *entitymap.Store
}

// New builds the contact module against client, which authenticates on
// its first call, and the tenant's entity map.
func New(client *rpcclient.Client, entMap *entitymap.Store) *Module {
	return &Module{client: client, entMap: entMap}
}

func (m *Module) ID() string { return moduleID }

func (m *Module) RemoteModels() map[string]string {
	return map[string]string{entityType: remoteModel}
}

// ExclusiveGroup is empty: no other module in this repository claims the
// contact entity type.
func (m *Module) ExclusiveGroup() string { return "" }

func (m *Module) DependencyStatus() registry.DependencyStatus {
	return registry.DependencyStatus{Available: true}
}

// Push creates or updates the remote res.partner record for job.
func (m *Module) Push(job registry.Job) registry.Result {
	var rec Record
	if err := json.Unmarshal([]byte(job.Payload), &rec); err != nil {
		return registry.Fail(false, fmt.Sprintf("contact: decode payload: %v", err))
	}

	hash, err := entitymap.SyncHash(rec)
	if err != nil {
		return registry.Fail(false, fmt.Sprintf("contact: hash payload: %v", err))
	}

	values := map[string]interface{}{"name": rec.Name, "email": rec.Email, "phone": rec.Phone}

	ctx := context.Background()
	if job.RemoteID != nil {
		ok, err := m.client.Write(ctx, remoteModel, []int64{*job.RemoteID}, values, nil)
		if err != nil {
			return toResult(err)
		}
		if !ok {
			return registry.Fail(true, "contact: write returned false")
		}
		if job.LocalID != nil {
			m.entMap.Save(job.Tenant, moduleID, entityType, *job.LocalID, *job.RemoteID, remoteModel, hash)
		}
		return registry.Ok(job.RemoteID)
	}

	remoteID, err := m.client.Create(ctx, remoteModel, values, nil)
	if err != nil {
		return toResult(err)
	}
	if job.LocalID != nil {
		m.entMap.Save(job.Tenant, moduleID, entityType, *job.LocalID, remoteID, remoteModel, hash)
	}
	return registry.Ok(&remoteID)
}

// Pull reads the remote res.partner record named by job.RemoteID and
// computes its sync_hash. It performs no local write, and it returns the
// same Ok result whether or not that hash matches the one stored for the
// mapped local record.
func (m *Module) Pull(job registry.Job) registry.Result {
	if job.RemoteID == nil {
		return registry.Fail(false, "contact: pull requires a remote id")
	}

	ctx := context.Background()
	records, err := m.client.Read(ctx, remoteModel, []int64{*job.RemoteID}, []string{"name", "email", "phone"}, nil)
	if err != nil {
		return toResult(err)
	}
	if len(records) == 0 {
		return registry.Fail(false, "contact: remote record not found")
	}

	fields, ok := records[0].(map[string]interface{})
	if !ok {
		return registry.Fail(false, "contact: unexpected record shape")
	}
	rec := Record{
		Name:  stringField(fields["name"]),
		Email: stringField(fields["email"]),
		Phone: stringField(fields["phone"]),
	}

	hash, err := entitymap.SyncHash(rec)
	if err != nil {
		return registry.Fail(false, fmt.Sprintf("contact: hash payload: %v", err))
	}

	if job.LocalID != nil {
		if existing, ok, _ := m.entMap.GetLocal(job.Tenant, moduleID, remoteModel, *job.RemoteID); ok {
			if mapping, err := m.entMap.ListForModule(job.Tenant, moduleID, entityType); err == nil {
				if prior, ok := mapping[existing]; ok && prior.SyncHash == hash {
					return registry.Ok(job.RemoteID)
				}
			}
		}
	}

	return registry.Ok(job.RemoteID)
}

func stringField(v interface{}) string {
	s, _ := v.(string)
	return s
}

func toResult(err error) registry.Result {
	return registry.Fail(syncerr.IsRetryable(err), err.Error())
}

// Package entitymap implements the bidirectional local<->remote entity
// index, built on a gorm/sqlite repository shape: a durable store behind
// an upsert, plus a per-request in-memory cache layer that must not
// outlive its owning request.
package entitymap

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// Row is the gorm row for the entity_map table, with a unique composite
// index on (tenant, module, entity_type, local_id, remote_id) and
// secondary indexes on the two lookup paths.
type Row struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	Tenant       string `gorm:"size:128;uniqueIndex:idx_entity_map_composite,priority:1;index:idx_entity_map_local,priority:1;index:idx_entity_map_remote,priority:1"`
	Module       string `gorm:"size:128;uniqueIndex:idx_entity_map_composite,priority:2"`
	EntityType   string `gorm:"size:128;uniqueIndex:idx_entity_map_composite,priority:3;index:idx_entity_map_local,priority:2"`
	LocalID      int64  `gorm:"uniqueIndex:idx_entity_map_composite,priority:4;index:idx_entity_map_local,priority:3"`
	RemoteID     int64  `gorm:"uniqueIndex:idx_entity_map_composite,priority:5;index:idx_entity_map_remote,priority:3"`
	RemoteModel  string `gorm:"size:128;index:idx_entity_map_remote,priority:2"`
	SyncHash     string `gorm:"size:64"`
	LastSyncedAt time.Time
}

// TableName pins the gorm table name to entity_map.
func (Row) TableName() string { return "entity_map" }

type cacheKey struct {
	tenant, module, entityType string
	localID, remoteID          int64
}

// Store is the durable entity-map repository fronted by a per-request
// in-memory cache. Callers must construct one Store per request (or
// request-scoped context) and discard it afterward; sharing a Store across
// requests would violate the tenant isolation invariant in practice even
// though the durable layer itself is already tenant-scoped.
type Store struct {
	db            *gorm.DB
	remoteByLocal map[cacheKey]int64
	localByRemote map[cacheKey]int64
}

// New opens/migrates the entity_map table on db and returns a fresh,
// empty-cache Store.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Row{}); err != nil {
		return nil, err
	}
	return &Store{
		db:            db,
		remoteByLocal: make(map[cacheKey]int64),
		localByRemote: make(map[cacheKey]int64),
	}, nil
}

// FlushCache drops the in-memory cache without touching the durable store.
func (s *Store) FlushCache() {
	s.remoteByLocal = make(map[cacheKey]int64)
	s.localByRemote = make(map[cacheKey]int64)
}

// GetRemote resolves a local id to its remote id, checking cache first.
func (s *Store) GetRemote(tenant, module, entityType string, localID int64) (int64, bool, error) {
	key := cacheKey{tenant, module, entityType, localID, 0}
	if v, ok := s.remoteByLocal[key]; ok {
		return v, true, nil
	}

	var row Row
	err := s.db.Where("tenant = ? AND module = ? AND entity_type = ? AND local_id = ?",
		tenant, module, entityType, localID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	s.remoteByLocal[key] = row.RemoteID
	return row.RemoteID, true, nil
}

// GetLocal resolves a remote id (scoped by remote_model) to its local id.
func (s *Store) GetLocal(tenant, module, remoteModel string, remoteID int64) (int64, bool, error) {
	key := cacheKey{tenant, module, remoteModel, 0, remoteID}
	if v, ok := s.localByRemote[key]; ok {
		return v, true, nil
	}

	var row Row
	err := s.db.Where("tenant = ? AND module = ? AND remote_model = ? AND remote_id = ?",
		tenant, module, remoteModel, remoteID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	s.localByRemote[key] = row.LocalID
	return row.LocalID, true, nil
}

// GetRemoteBatch resolves many local ids at once.
func (s *Store) GetRemoteBatch(tenant, module, entityType string, localIDs []int64) (map[int64]int64, error) {
	result := make(map[int64]int64, len(localIDs))
	var missing []int64
	for _, id := range localIDs {
		key := cacheKey{tenant, module, entityType, id, 0}
		if v, ok := s.remoteByLocal[key]; ok {
			result[id] = v
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return result, nil
	}

	var rows []Row
	err := s.db.Where("tenant = ? AND module = ? AND entity_type = ? AND local_id IN ?",
		tenant, module, entityType, missing).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		result[row.LocalID] = row.RemoteID
		s.remoteByLocal[cacheKey{tenant, module, entityType, row.LocalID, 0}] = row.RemoteID
	}
	return result, nil
}

// GetLocalBatch resolves many remote ids at once.
func (s *Store) GetLocalBatch(tenant, module, remoteModel string, remoteIDs []int64) (map[int64]int64, error) {
	result := make(map[int64]int64, len(remoteIDs))
	var missing []int64
	for _, id := range remoteIDs {
		key := cacheKey{tenant, module, remoteModel, 0, id}
		if v, ok := s.localByRemote[key]; ok {
			result[id] = v
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return result, nil
	}

	var rows []Row
	err := s.db.Where("tenant = ? AND module = ? AND remote_model = ? AND remote_id IN ?",
		tenant, module, remoteModel, missing).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		result[row.RemoteID] = row.LocalID
		s.localByRemote[cacheKey{tenant, module, remoteModel, 0, row.RemoteID}] = row.LocalID
	}
	return result, nil
}

// Save upserts the composite-keyed row, updates last_synced_at, and
// populates both cache directions.
func (s *Store) Save(tenant, module, entityType string, localID, remoteID int64, remoteModel, syncHash string) error {
	now := time.Now()
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var row Row
		err := tx.Where("tenant = ? AND module = ? AND entity_type = ? AND local_id = ? AND remote_id = ?",
			tenant, module, entityType, localID, remoteID).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			row = Row{
				Tenant:       tenant,
				Module:       module,
				EntityType:   entityType,
				LocalID:      localID,
				RemoteID:     remoteID,
				RemoteModel:  remoteModel,
				SyncHash:     syncHash,
				LastSyncedAt: now,
			}
			return tx.Create(&row).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&row).Updates(map[string]interface{}{
			"remote_model":   remoteModel,
			"sync_hash":      syncHash,
			"last_synced_at": now,
		}).Error
	})
	if err != nil {
		return err
	}

	s.remoteByLocal[cacheKey{tenant, module, entityType, localID, 0}] = remoteID
	s.localByRemote[cacheKey{tenant, module, remoteModel, 0, remoteID}] = localID
	return nil
}

// Remove removes the mapping from both the durable store and both cache
// directions.
func (s *Store) Remove(tenant, module, entityType string, localID int64) error {
	var row Row
	err := s.db.Where("tenant = ? AND module = ? AND entity_type = ? AND local_id = ?",
		tenant, module, entityType, localID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.db.Delete(&row).Error; err != nil {
		return err
	}
	delete(s.remoteByLocal, cacheKey{tenant, module, entityType, localID, 0})
	delete(s.localByRemote, cacheKey{tenant, module, row.RemoteModel, 0, row.RemoteID})
	return nil
}

// Mapping is one row of ListForModule's result.
type Mapping struct {
	RemoteID int64
	SyncHash string
}

// ListForModule returns every mapping owned by (tenant, module, entityType),
// keyed by local id.
func (s *Store) ListForModule(tenant, module, entityType string) (map[int64]Mapping, error) {
	var rows []Row
	err := s.db.Where("tenant = ? AND module = ? AND entity_type = ?", tenant, module, entityType).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make(map[int64]Mapping, len(rows))
	for _, row := range rows {
		result[row.LocalID] = Mapping{RemoteID: row.RemoteID, SyncHash: row.SyncHash}
	}
	return result, nil
}

package registry

import (
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cuemby/corral/pkg/config"
	"github.com/cuemby/corral/pkg/store"
	"github.com/cuemby/corral/pkg/types"
)

const (
	keyID      = "id:"
	keyRuntime = "rt:"
)

// Repository resolves container records from the relational store with
// a short TTL read cache in front. Claim loops and event handlers hit
// the cache; writes invalidate, and the TTL bounds staleness when they
// miss a key.
type Repository struct {
	db    *gorm.DB
	cache *gocache.Cache
	ttl   time.Duration
}

// NewRepository creates a registry over the containers table.
func NewRepository(db *gorm.DB, cfg config.ManifestConfig) *Repository {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Repository{
		db:    db,
		cache: gocache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

// Get resolves a container record by id. A missing row is a gone
// fault so callers can fail jobs terminally.
func (r *Repository) Get(containerID string) (*types.ContainerRecord, error) {
	if record, ok := r.cached(keyID + containerID); ok {
		return record, nil
	}

	var model store.ContainerModel
	if err := r.db.First(&model, "id = ?", containerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.Faultf(types.FaultGone, "registry.get",
				"container %s not found", containerID)
		}
		return nil, fmt.Errorf("failed to load container %s: %w", containerID, err)
	}

	record := toRecord(&model)
	r.remember(record)
	return record, nil
}

// ByRuntimeID resolves a record by its runtime handle. Unknown handles
// return nil without error: runtime events also fire for containers
// that are not ours.
func (r *Repository) ByRuntimeID(runtimeID string) (*types.ContainerRecord, error) {
	if record, ok := r.cached(keyRuntime + runtimeID); ok {
		return record, nil
	}

	var model store.ContainerModel
	err := r.db.First(&model, "runtime_id = ?", runtimeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load container by runtime id %s: %w", runtimeID, err)
	}

	record := toRecord(&model)
	r.remember(record)
	return record, nil
}

// ListByStatus returns records in a given status, oldest first.
func (r *Repository) ListByStatus(status types.ContainerStatus) ([]*types.ContainerRecord, error) {
	var models []store.ContainerModel
	if err := r.db.Where("status = ?", string(status)).
		Order("created_at").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list containers by status: %w", err)
	}

	records := make([]*types.ContainerRecord, 0, len(models))
	for i := range models {
		records = append(records, toRecord(&models[i]))
	}
	return records, nil
}

// RunningContainers lists records marked running. Satisfies the log
// collector's container source.
func (r *Repository) RunningContainers() ([]*types.ContainerRecord, error) {
	return r.ListByStatus(types.ContainerStatusRunning)
}

// Save upserts a record keyed by id.
func (r *Repository) Save(record *types.ContainerRecord) error {
	model := toModel(record)
	err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"runtime_id", "name", "status", "mode",
			"memory_bytes", "cpu_shares", "updated_at",
		}),
	}).Create(model).Error
	if err != nil {
		return fmt.Errorf("failed to save container %s: %w", record.ID, err)
	}

	r.cache.Delete(keyID + record.ID)
	r.cache.Delete(keyRuntime + record.RuntimeID)
	return nil
}

// UpdateStatus moves a record to a new status. A missing row is a gone
// fault.
func (r *Repository) UpdateStatus(containerID string, status types.ContainerStatus) error {
	var model store.ContainerModel
	if err := r.db.First(&model, "id = ?", containerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Faultf(types.FaultGone, "registry.update_status",
				"container %s not found", containerID)
		}
		return fmt.Errorf("failed to load container %s: %w", containerID, err)
	}

	if err := r.db.Model(&store.ContainerModel{}).
		Where("id = ?", containerID).
		Update("status", string(status)).Error; err != nil {
		return fmt.Errorf("failed to update container %s status: %w", containerID, err)
	}

	r.cache.Delete(keyID + containerID)
	r.cache.Delete(keyRuntime + model.RuntimeID)
	return nil
}

// Delete removes a record. Deleting an absent record is a no-op.
func (r *Repository) Delete(containerID string) error {
	var model store.ContainerModel
	err := r.db.First(&model, "id = ?", containerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", containerID, err)
	}

	if err := r.db.Delete(&store.ContainerModel{}, "id = ?", containerID).Error; err != nil {
		return fmt.Errorf("failed to delete container %s: %w", containerID, err)
	}

	r.cache.Delete(keyID + containerID)
	r.cache.Delete(keyRuntime + model.RuntimeID)
	return nil
}

func (r *Repository) cached(key string) (*types.ContainerRecord, bool) {
	value, found := r.cache.Get(key)
	if !found {
		return nil, false
	}
	record, ok := value.(types.ContainerRecord)
	if !ok {
		return nil, false
	}
	return &record, true
}

// remember stores the record under both keys by value so callers can
// mutate their copy freely.
func (r *Repository) remember(record *types.ContainerRecord) {
	r.cache.Set(keyID+record.ID, *record, r.ttl)
	r.cache.Set(keyRuntime+record.RuntimeID, *record, r.ttl)
}

func toRecord(m *store.ContainerModel) *types.ContainerRecord {
	return &types.ContainerRecord{
		ID:          m.ID,
		RuntimeID:   m.RuntimeID,
		Name:        m.Name,
		Status:      types.ContainerStatus(m.Status),
		Mode:        types.Mode(m.Mode),
		MemoryBytes: m.MemoryBytes,
		CPUShares:   m.CPUShares,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func toModel(record *types.ContainerRecord) *store.ContainerModel {
	return &store.ContainerModel{
		ID:          record.ID,
		RuntimeID:   record.RuntimeID,
		Name:        record.Name,
		Status:      string(record.Status),
		Mode:        string(record.Mode),
		MemoryBytes: record.MemoryBytes,
		CPUShares:   record.CPUShares,
	}
}

package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/security"
	"github.com/cuemby/corral/pkg/types"
)

// fleetManifest is the YAML document listing containers to adopt.
type fleetManifest struct {
	Containers []manifestEntry `yaml:"containers"`
}

type manifestEntry struct {
	ID          string `yaml:"id"`
	RuntimeID   string `yaml:"runtime_id"`
	Name        string `yaml:"name"`
	Status      string `yaml:"status"`
	Mode        string `yaml:"mode"`
	MemoryBytes int64  `yaml:"memory_bytes"`
	CPUShares   int64  `yaml:"cpu_shares"`
}

// LoadManifest seeds the registry from a YAML fleet manifest, upserting
// by container id. Entries default to running and interactive so a
// bare id/handle pair adopts a live container. Returns the number of
// records written.
func (r *Repository) LoadManifest(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read fleet manifest: %w", err)
	}

	var manifest fleetManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return 0, fmt.Errorf("failed to parse fleet manifest: %w", err)
	}

	count := 0
	for i := range manifest.Containers {
		record, err := manifest.Containers[i].record(i)
		if err != nil {
			return count, err
		}
		if err := r.Save(record); err != nil {
			return count, err
		}
		count++
	}

	log.WithComponent("registry").Info().
		Str("path", path).
		Int("containers", count).
		Msg("Fleet manifest loaded")
	return count, nil
}

func (e *manifestEntry) record(index int) (*types.ContainerRecord, error) {
	if err := security.ValidateContainerID(e.ID); err != nil {
		return nil, fmt.Errorf("manifest entry %d: %w", index, err)
	}
	if e.RuntimeID == "" {
		return nil, fmt.Errorf("manifest entry %d (%s): runtime_id is required", index, e.ID)
	}

	status := types.ContainerStatus(e.Status)
	if e.Status == "" {
		status = types.ContainerStatusRunning
	}
	switch status {
	case types.ContainerStatusCreating, types.ContainerStatusRunning,
		types.ContainerStatusStopped, types.ContainerStatusError,
		types.ContainerStatusDeleted:
	default:
		return nil, fmt.Errorf("manifest entry %d (%s): unknown status %q", index, e.ID, e.Status)
	}

	mode := types.Mode(e.Mode)
	if e.Mode == "" {
		mode = types.ModeInteractive
	}
	if mode != types.ModeInteractive && mode != types.ModeAutonomous {
		return nil, fmt.Errorf("manifest entry %d (%s): unknown mode %q", index, e.ID, e.Mode)
	}

	name := e.Name
	if name == "" {
		name = e.ID
	}

	return &types.ContainerRecord{
		ID:          e.ID,
		RuntimeID:   e.RuntimeID,
		Name:        name,
		Status:      status,
		Mode:        mode,
		MemoryBytes: e.MemoryBytes,
		CPUShares:   e.CPUShares,
	}, nil
}

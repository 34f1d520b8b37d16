/*
Package registry is the read/resolve layer over container records.

Records live in the containers table and are primarily owned by the
provisioning layer; the core resolves them on hot paths (claim loops,
runtime events) through a short TTL cache and only writes status
transitions. An optional YAML fleet manifest seeds records at startup
so a fresh deployment can adopt containers that already exist.

Resolution by runtime handle tolerates unknown handles by returning
nil: the runtime event stream carries every container on the host, not
only ours.

# Usage

	repo := registry.NewRepository(db, cfg.Manifest)

	if cfg.Manifest.Path != "" {
		if _, err := repo.LoadManifest(cfg.Manifest.Path); err != nil {
			return err
		}
	}

	record, err := repo.Get(containerID)
	running, err := repo.RunningContainers()

# Integration Points

  - pkg/store: ContainerModel and the shared GORM connection
  - pkg/lifecycle: status transitions on container events
  - pkg/logstream: record resolution for attachment decisions
  - pkg/manager: manifest seeding and InitExisting enumeration
*/
package registry

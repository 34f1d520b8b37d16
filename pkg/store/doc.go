/*
Package store provides the relational persistence layer for Corral.

The store package opens the GORM connection shared by the container
registry, the log collector, and the usage accountant, and defines the
table models they persist. PostgreSQL backs production deployments;
SQLite (including :memory:) backs development and tests.

# Tables

containers:
  - Written by the external provisioning layer
  - The core reads rows and updates only status and resource columns

container_logs:
  - Sanitized, classified log lines appended in batches
  - Indexed by (container_id, recorded_at) for ordered reads
  - Pruned by the log collector's retention janitor

usage_records:
  - One row per (job_id, bucket_id); the unique index makes result
    replays idempotent
  - Pruned by the usage accountant after the retention window

# Usage

	db, err := store.NewConnection(&cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close(db)

	if err := store.AutoMigrate(db); err != nil {
		return err
	}

Tests use the in-memory helper:

	db, err := store.NewTestConnection()

Errors are translated (gorm.Config.TranslateError) so callers can test
errors.Is(err, gorm.ErrDuplicatedKey) instead of matching driver strings.
*/
package store

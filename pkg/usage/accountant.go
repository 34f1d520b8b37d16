package usage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/cuemby/corral/pkg/config"
	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/metrics"
	"github.com/cuemby/corral/pkg/store"
	"github.com/cuemby/corral/pkg/types"
)

// bucketWidth is the wall-clock alignment of session buckets
const bucketWidth = 5 * time.Hour

// resultLine is the slice of an assistant result record the accountant
// reads
type resultLine struct {
	Type         string  `json:"type"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	Usage        struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

// Accountant persists token and cost usage extracted from dispatch
// output and serves aggregates
type Accountant struct {
	db     *gorm.DB
	cfg    config.UsageConfig
	stopCh chan struct{}
}

// NewAccountant creates the usage accountant
func NewAccountant(db *gorm.DB, cfg config.UsageConfig) *Accountant {
	return &Accountant{
		db:     db,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
}

// Start launches the retention janitor
func (a *Accountant) Start() {
	go a.compactLoop()
}

// Stop halts the janitor
func (a *Accountant) Stop() {
	close(a.stopCh)
}

// Record scans dispatch stdout for result records and persists one
// usage row in the container's current session bucket. Returns whether
// a row was written; replays of the same job and bucket are absorbed.
func (a *Accountant) Record(containerID, jobID, stdout string) (bool, error) {
	totals := extractTotals(stdout)
	if totals.InputTokens == 0 && totals.OutputTokens == 0 && totals.CostMicros == 0 {
		return false, nil
	}

	start := bucketStart(time.Now().UTC())
	record := &store.UsageRecordModel{
		JobID:        jobID,
		BucketID:     bucketID(containerID, start),
		ContainerID:  containerID,
		BucketStart:  start,
		InputTokens:  totals.InputTokens,
		OutputTokens: totals.OutputTokens,
		CostMicros:   totals.CostMicros,
	}

	if err := a.db.Create(record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			log.WithComponent("usage").Debug().
				Str("container_id", containerID).
				Str("job_id", jobID).
				Msg("Usage already recorded for this job and bucket")
			return false, nil
		}
		return false, fmt.Errorf("failed to persist usage record: %w", err)
	}

	metrics.UsageTokens.WithLabelValues("input").Add(float64(totals.InputTokens))
	metrics.UsageTokens.WithLabelValues("output").Add(float64(totals.OutputTokens))
	metrics.UsageCostMicros.Add(float64(totals.CostMicros))

	log.WithComponent("usage").Info().
		Str("container_id", containerID).
		Str("job_id", jobID).
		Int64("input_tokens", totals.InputTokens).
		Int64("output_tokens", totals.OutputTokens).
		Int64("cost_micros", totals.CostMicros).
		Msg("Recorded usage")
	return true, nil
}

// Summary aggregates the container's usage over the last day, the last
// week, and the current session bucket
func (a *Accountant) Summary(containerID string) (*types.UsageSummary, error) {
	now := time.Now().UTC()
	summary := &types.UsageSummary{}

	var err error
	if summary.Last24h, err = a.totalsSince(containerID, now.Add(-24*time.Hour)); err != nil {
		return nil, err
	}
	if summary.Last7d, err = a.totalsSince(containerID, now.Add(-7*24*time.Hour)); err != nil {
		return nil, err
	}

	start := bucketStart(now)
	if summary.CurrentBucket, err = a.bucketTotals(bucketID(containerID, start)); err != nil {
		return nil, err
	}
	summary.BucketEndsAt = start.Add(bucketWidth)
	return summary, nil
}

func (a *Accountant) totalsSince(containerID string, since time.Time) (types.UsageTotals, error) {
	var totals types.UsageTotals
	err := a.db.Raw(`
		SELECT
			COALESCE(SUM(input_tokens), 0) AS input_tokens,
			COALESCE(SUM(output_tokens), 0) AS output_tokens,
			COALESCE(SUM(cost_micros), 0) AS cost_micros
		FROM usage_records
		WHERE container_id = ? AND created_at >= ?
	`, containerID, since).Scan(&totals).Error
	if err != nil {
		return totals, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	return totals, nil
}

func (a *Accountant) bucketTotals(bucket string) (types.UsageTotals, error) {
	var totals types.UsageTotals
	err := a.db.Raw(`
		SELECT
			COALESCE(SUM(input_tokens), 0) AS input_tokens,
			COALESCE(SUM(output_tokens), 0) AS output_tokens,
			COALESCE(SUM(cost_micros), 0) AS cost_micros
		FROM usage_records
		WHERE bucket_id = ?
	`, bucket).Scan(&totals).Error
	if err != nil {
		return totals, fmt.Errorf("failed to aggregate bucket usage: %w", err)
	}
	return totals, nil
}

// Cleanup deletes records past the retention window
func (a *Accountant) Cleanup() {
	cutoff := time.Now().UTC().Add(-a.cfg.Retention)
	result := a.db.Where("created_at < ?", cutoff).Delete(&store.UsageRecordModel{})
	if result.Error != nil {
		log.WithComponent("usage").Error().Err(result.Error).Msg("Usage retention cleanup failed")
		return
	}
	if result.RowsAffected > 0 {
		log.WithComponent("usage").Info().
			Int64("deleted", result.RowsAffected).
			Msg("Trimmed expired usage records")
	}
}

func (a *Accountant) compactLoop() {
	ticker := time.NewTicker(a.cfg.CompactInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.Cleanup()
		case <-a.stopCh:
			return
		}
	}
}

// extractTotals sums every result record found in the stdout, so a
// replayed stream always yields the same tuple
func extractTotals(stdout string) types.UsageTotals {
	var totals types.UsageTotals

	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record resultLine
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			continue
		}
		if record.Type != "result" {
			continue
		}
		totals.InputTokens += record.Usage.InputTokens
		totals.OutputTokens += record.Usage.OutputTokens
		totals.CostMicros += costToMicros(record.TotalCostUSD)
	}
	return totals
}

// costToMicros converts a dollar amount to integer micros
func costToMicros(usd float64) int64 {
	return int64(math.Round(usd * 1e6))
}

// bucketStart aligns a moment to its 5-hour wall-clock bucket
func bucketStart(now time.Time) time.Time {
	width := int64(bucketWidth / time.Second)
	aligned := now.Unix() - now.Unix()%width
	return time.Unix(aligned, 0).UTC()
}

// bucketID derives the session bucket identifier for a container
func bucketID(containerID string, start time.Time) string {
	return fmt.Sprintf("%s:%d", containerID, start.Unix())
}

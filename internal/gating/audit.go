package gating

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/trustplane/trustplane/internal/store"
	"github.com/trustplane/trustplane/pkg/models"
)

// defaultRecentLimit is used when an audit query gives no limit.
const defaultRecentLimit = 20

// auditLog is the append-only tier change history. Records are keyed
// by a zero-padded sequence number so the store's ascending key order
// is chronological order; records are never updated or deleted except
// by the optional retention cap.
type auditLog struct {
	kv        store.KV
	retention int

	mu        sync.Mutex
	seq       uint64
	seqLoaded bool
}

func newAuditLog(kv store.KV, retention int) *auditLog {
	return &auditLog{kv: kv, retention: retention}
}

func newAuditID() string { return uuid.NewString() }

// nextKey allocates the next sequence key, recovering the high-water
// mark from the store on first use so restarts keep appending.
func (a *auditLog) nextKey(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.seqLoaded {
		keys, err := a.kv.ListKeys(ctx, store.CollectionAudit)
		if err != nil {
			return "", fmt.Errorf("recover audit sequence: %w", err)
		}
		if len(keys) > 0 {
			last := keys[len(keys)-1]
			if n, err := strconv.ParseUint(last, 10, 64); err == nil {
				a.seq = n
			} else {
				a.seq = uint64(len(keys))
			}
		}
		a.seqLoaded = true
	}

	a.seq++
	return fmt.Sprintf("%012d", a.seq), nil
}

func (a *auditLog) append(ctx context.Context, rec *models.TierChangeRecord) error {
	key, err := a.nextKey(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record %s: %w", rec.ID, err)
	}
	if err := a.kv.Put(ctx, store.CollectionAudit, key, data); err != nil {
		return fmt.Errorf("write audit record %s: %w", rec.ID, err)
	}
	if a.retention > 0 {
		a.evict(ctx)
	}
	return nil
}

// evict trims the oldest records past the retention cap. Failures are
// logged only; eviction is housekeeping, not correctness.
func (a *auditLog) evict(ctx context.Context) {
	keys, err := a.kv.ListKeys(ctx, store.CollectionAudit)
	if err != nil {
		log.Warn().Err(err).Msg("Audit retention scan failed")
		return
	}
	if len(keys) <= a.retention {
		return
	}
	for _, k := range keys[:len(keys)-a.retention] {
		if err := a.kv.Delete(ctx, store.CollectionAudit, k); err != nil {
			log.Warn().Err(err).Str("key", k).Msg("Audit retention delete failed")
		}
	}
}

// recent returns the newest n records, newest first. n <= 0 uses the
// default limit.
func (a *auditLog) recent(ctx context.Context, n int) ([]models.TierChangeRecord, error) {
	if n <= 0 {
		n = defaultRecentLimit
	}
	keys, err := a.kv.ListKeys(ctx, store.CollectionAudit)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	if len(keys) > n {
		keys = keys[len(keys)-n:]
	}

	out := make([]models.TierChangeRecord, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		rec, err := a.load(ctx, keys[i])
		if err != nil {
			log.Warn().Err(err).Str("key", keys[i]).Msg("Skipping unreadable audit record")
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// forAgent returns every record for one agent, newest first.
func (a *auditLog) forAgent(ctx context.Context, agentID string) ([]models.TierChangeRecord, error) {
	keys, err := a.kv.ListKeys(ctx, store.CollectionAudit)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}

	out := []models.TierChangeRecord{}
	for i := len(keys) - 1; i >= 0; i-- {
		rec, err := a.load(ctx, keys[i])
		if err != nil {
			log.Warn().Err(err).Str("key", keys[i]).Msg("Skipping unreadable audit record")
			continue
		}
		if rec.AgentID == agentID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (a *auditLog) load(ctx context.Context, key string) (models.TierChangeRecord, error) {
	var rec models.TierChangeRecord
	raw, err := a.kv.Get(ctx, store.CollectionAudit, key)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, fmt.Errorf("decode audit record %s: %w", key, err)
	}
	return rec, nil
}

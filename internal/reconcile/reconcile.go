// File: internal/reconcile/reconcile.go
package reconcile

import (
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wyatt727/BSTI/api/schemas"
)

// Item pairs a flaw with the remote id it already has on the platform.
type Item struct {
	Flaw     schemas.Flaw
	RemoteID string
}

// Plan is the partition of one run's flaws into the network work it needs.
type Plan struct {
	Create    []schemas.Flaw
	Update    []Item
	Unchanged []Item
}

// Total returns the number of flaws covered by the plan.
func (p Plan) Total() int {
	return len(p.Create) + len(p.Update) + len(p.Unchanged)
}

// Reconciler partitions flaws against the upload ledger.
type Reconciler struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{logger: logger.Named("reconcile")}
}

// Partition splits flaws into create, update and unchanged sets.
//
// records is the ledger keyed by flaw key. liveRemoteIDs, when non-nil, is
// the set of flaw ids currently present on the platform (remote refresh): a
// ledger record whose remote id is absent from it is treated as never
// uploaded, so its flaw is created again rather than updated into a void.
func (r *Reconciler) Partition(flaws []schemas.Flaw, records map[string]schemas.UploadRecord, liveRemoteIDs map[string]bool) Plan {
	var plan Plan
	vanished := 0

	for _, flaw := range flaws {
		record, known := records[flaw.FlawKey]
		if known && liveRemoteIDs != nil && !liveRemoteIDs[record.RemoteID] {
			vanished++
			r.logger.Warn("Ledger entry references a flaw no longer on the platform; re-creating.",
				zap.String("flaw_key", flaw.FlawKey),
				zap.String("title", flaw.Title),
				zap.String("stale_remote_id", record.RemoteID))
			known = false
		}
		if !known {
			plan.Create = append(plan.Create, flaw)
			continue
		}

		fingerprint := Fingerprint(flaw)
		if fingerprint == record.Fingerprint {
			plan.Unchanged = append(plan.Unchanged, Item{Flaw: flaw, RemoteID: record.RemoteID})
			continue
		}

		r.logDrift(flaw, record)
		plan.Update = append(plan.Update, Item{Flaw: flaw, RemoteID: record.RemoteID})
	}

	r.logger.Info("Reconciled flaws against ledger.",
		zap.Int("create", len(plan.Create)),
		zap.Int("update", len(plan.Update)),
		zap.Int("unchanged", len(plan.Unchanged)),
		zap.Int("vanished_remote", vanished))
	return plan
}

// logDrift emits a structural diff of the old vs new canonical payloads at
// debug level. Records from older ledgers carry no canonical payload; those
// fall back to the fingerprint pair.
func (r *Reconciler) logDrift(flaw schemas.Flaw, record schemas.UploadRecord) {
	if !r.logger.Core().Enabled(zapcore.DebugLevel) {
		return
	}

	var oldPayload, newPayload map[string]any
	if record.Canonical == "" ||
		json.Unmarshal([]byte(record.Canonical), &oldPayload) != nil ||
		json.Unmarshal(CanonicalPayload(flaw), &newPayload) != nil {
		r.logger.Debug("Flaw content changed.",
			zap.String("flaw_key", flaw.FlawKey),
			zap.String("old_fingerprint", record.Fingerprint),
			zap.String("new_fingerprint", Fingerprint(flaw)))
		return
	}

	r.logger.Debug("Flaw content changed.",
		zap.String("flaw_key", flaw.FlawKey),
		zap.String("title", flaw.Title),
		zap.String("diff", cmp.Diff(oldPayload, newPayload)))
}

// Package mirror drives a full reconciliation run: snapshot both sides,
// decide per relation, transfer what changed, prune what is gone, and
// assert the result.
package mirror

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dbmirror/dbmirror/dbconn"
	"github.com/dbmirror/dbmirror/ledger"
	"github.com/dbmirror/dbmirror/plan"
	"github.com/dbmirror/dbmirror/relation"
	"github.com/dbmirror/dbmirror/retry"
	"github.com/dbmirror/dbmirror/snapshot"
	"github.com/dbmirror/dbmirror/transfer"
	"github.com/rs/zerolog"
)

// ErrSchemaCreation means the target database could not be created.
// Nothing can proceed without one, so this aborts the run.
var ErrSchemaCreation = errors.New("target schema creation failed")

type Config struct {
	CompareBy       plan.CompareBy
	SyncViews       bool
	DisableFKChecks bool
	// Dir is the working directory holding transfer artifacts and the
	// resume ledger.
	Dir string
}

// Result summarizes a completed run. Errored and Mismatched relations do
// not stop the run but must flip the process's exit status.
type Result struct {
	Created    int
	Replaced   int
	Unchanged  int
	Removed    int
	Skipped    int
	Rows       int64
	Errored    []string
	Mismatched []string
}

// Failed reports whether the run, though it completed, must be treated
// as a failure by the caller.
func (r Result) Failed() bool {
	return len(r.Errored) > 0 || len(r.Mismatched) > 0
}

var reconnectSettings = retry.Settings{
	InitialBackoff: time.Second,
	Multiplier:     2,
	MaxRetries:     2,
}

type run struct {
	cfg      Config
	logger   zerolog.Logger
	source   dbconn.Conn
	target   dbconn.Conn
	strategy transfer.Strategy
	ledger   *ledger.Ledger

	res    Result
	synced []string
}

// Mirror reconciles the target database against the source. It takes
// ownership of both connections and closes them before returning.
//
// A non-nil error is fatal (ambiguous strategy, unreachable catalog,
// failed schema creation). Per-relation failures and consistency
// mismatches are accumulated in the Result instead; callers decide the
// process outcome via Result.Failed.
func Mirror(
	ctx context.Context,
	cfg Config,
	logger zerolog.Logger,
	conns dbconn.OrderedConns,
	strategy transfer.Strategy,
	led *ledger.Ledger,
) (Result, error) {
	r := &run{
		cfg:      cfg,
		logger:   logger,
		source:   conns.Source(),
		target:   conns.Target(),
		strategy: strategy,
		ledger:   led,
	}
	defer func() {
		if err := r.source.Close(ctx); err != nil {
			logger.Err(err).Msgf("error closing source connection")
		}
		if err := r.target.Close(ctx); err != nil {
			logger.Err(err).Msgf("error closing target connection")
		}
	}()

	// The strategy check precedes every side effect: a misconfigured
	// run must not touch either server.
	if cfg.CompareBy == plan.CompareUnset {
		return r.res, plan.ErrAmbiguousStrategy
	}
	if err := dbconn.ValidatePair(dbconn.OrderedConns{r.source, r.target}); err != nil {
		return r.res, err
	}

	logger.Info().
		Str("compare_by", cfg.CompareBy.String()).
		Str("strategy", strategy.Name()).
		Str("dir", cfg.Dir).
		Msgf("starting mirror run")

	target, err := dbconn.EnsureDatabase(ctx, r.target)
	if err != nil {
		return r.res, errors.Mark(errors.Wrap(err, "ensuring target database"), ErrSchemaCreation)
	}
	r.target = target

	decisions, err := r.plan(ctx)
	if err != nil {
		return r.res, err
	}

	if cfg.DisableFKChecks {
		if err := setFKChecks(ctx, r.target, false); err != nil {
			return r.res, errors.Wrap(err, "suspending foreign key checks")
		}
		// Restore runs on both success and failure paths; a target left
		// with checks disabled is worse than a failed run.
		defer func() {
			if err := setFKChecks(ctx, r.target, true); err != nil {
				r.logger.Err(err).Msgf("error restoring foreign key checks")
			}
		}()
	}

	applies, removes := partition(decisions)
	r.apply(ctx, applies)
	r.prune(ctx, removes)
	r.assertConsistency(ctx)

	logger.Info().
		Int("created", r.res.Created).
		Int("replaced", r.res.Replaced).
		Int("unchanged", r.res.Unchanged).
		Int("removed", r.res.Removed).
		Int("skipped", r.res.Skipped).
		Int64("rows", r.res.Rows).
		Strs("errored", r.res.Errored).
		Strs("mismatched", r.res.Mismatched).
		Msgf("mirror run complete")
	return r.res, nil
}

// plan snapshots both sides, drops everything the resume ledger already
// covers, and decides per relation.
func (r *run) plan(ctx context.Context) ([]plan.Decision, error) {
	opts := snapshot.Options{Checksums: r.cfg.CompareBy == plan.CompareByChecksum}
	r.logger.Info().Msgf("reading source catalog")
	srcSnap, err := snapshot.Read(ctx, r.source, opts)
	if err != nil {
		return nil, err
	}
	r.logger.Info().Msgf("reading target catalog")
	tgtSnap, err := snapshot.Read(ctx, r.target, opts)
	if err != nil {
		return nil, err
	}

	done := r.ledger.Entries()
	if len(done) > 0 {
		// Ledgered relations are skipped outright, not re-decided.
		// A stale ledger can therefore mask a needed resync; deleting
		// the ledger file is the way to force one.
		for name := range done {
			if _, ok := srcSnap[name]; ok {
				r.res.Skipped++
				r.logger.Debug().Str("relation", name).Msgf("already recorded in resume ledger, skipping")
			}
		}
		srcSnap = srcSnap.Without(done)
		tgtSnap = tgtSnap.Without(done)
	}

	decisions, err := plan.Decide(srcSnap, tgtSnap, r.cfg.CompareBy)
	if err != nil {
		return nil, err
	}
	if !r.cfg.SyncViews {
		filtered := decisions[:0]
		for _, d := range decisions {
			if d.Kind == relation.KindView {
				continue
			}
			filtered = append(filtered, d)
		}
		decisions = filtered
	}
	return decisions, nil
}

func partition(decisions []plan.Decision) (applies, removes []plan.Decision) {
	for _, d := range decisions {
		if d.Action == plan.ActionRemove {
			removes = append(removes, d)
		} else {
			applies = append(applies, d)
		}
	}
	return applies, removes
}

// apply walks the create/replace/unchanged decisions in planned order;
// tables come before views, so a recreated view always finds its tables.
func (r *run) apply(ctx context.Context, decisions []plan.Decision) {
	for _, d := range decisions {
		logger := r.logger.With().
			Str("relation", d.Name).
			Str("kind", d.Kind.String()).
			Logger()
		switch d.Action {
		case plan.ActionUnchanged:
			r.res.Unchanged++
			relationsProcessed.WithLabelValues(d.Action.String()).Inc()
			if d.Kind == relation.KindTable {
				r.synced = append(r.synced, d.Name)
			}
			logger.Debug().Msgf("unchanged")
			continue
		case plan.ActionCreate, plan.ActionReplace:
			if d.Reason != "" {
				logger.Warn().Msgf("replacing: %s", d.Reason)
			}
			if err := r.applyWithReconnect(ctx, d, logger); err != nil {
				logger.Err(err).Msgf("error transferring relation")
				r.res.Errored = append(r.res.Errored, d.Name)
				relationsProcessed.WithLabelValues("error").Inc()
				continue
			}
			if d.Action == plan.ActionCreate {
				r.res.Created++
			} else {
				r.res.Replaced++
			}
			relationsProcessed.WithLabelValues(d.Action.String()).Inc()
			if d.Kind == relation.KindTable {
				r.synced = append(r.synced, d.Name)
				if err := r.ledger.Record(d.Name); err != nil {
					// Non-fatal: the table is synced for this run but
					// will not be resumable.
					logger.Warn().Err(err).Msgf("error recording relation in resume ledger")
				}
			}
		}
	}
}

// applyWithReconnect runs the per-relation transfer cycle. If the target
// connection drops mid-relation it reconnects once, reapplies the
// foreign-key configuration and retries the relation; a second failure
// is an error for this relation only.
func (r *run) applyWithReconnect(
	ctx context.Context, d plan.Decision, logger zerolog.Logger,
) error {
	err := r.applyOne(ctx, d, logger)
	if err == nil || !isConnectionErr(err) {
		return err
	}
	logger.Warn().Err(err).Msgf("target connection lost, reconnecting")
	if rerr := r.reconnectTarget(ctx); rerr != nil {
		return errors.CombineErrors(err, rerr)
	}
	// The first attempt may have created the relation before the
	// connection dropped; the retry must start from a clean slate.
	// Replace re-drops inside applyOne already.
	if d.Action == plan.ActionCreate {
		if derr := r.dropRelation(ctx, d.Name, d.Kind); derr != nil {
			return errors.CombineErrors(err, derr)
		}
	}
	return r.applyOne(ctx, d, logger)
}

func (r *run) applyOne(
	ctx context.Context, d plan.Decision, logger zerolog.Logger,
) error {
	if d.Action == plan.ActionReplace {
		// Drop only ever happens right before recreation.
		dropKind := d.Kind
		if d.Target != nil {
			dropKind = d.Target.Kind
		}
		if err := r.dropRelation(ctx, d.Name, dropKind); err != nil {
			return errors.Wrapf(err, "dropping %s", d.Name)
		}
	}
	logger.Info().Msgf("copying structure")
	if err := r.strategy.CopyStructure(ctx, r.source, r.target, *d.Source); err != nil {
		return err
	}
	if d.Kind != relation.KindTable {
		return nil
	}
	unlock, err := r.lockRelation(ctx, d.Name)
	if err != nil {
		return errors.Wrapf(err, "locking %s", d.Name)
	}
	logger.Info().Msgf("copying data")
	rows, err := r.strategy.CopyData(ctx, r.source, r.target, *d.Source)
	// Lock release is unconditional, error path included.
	unlockErr := unlock()
	if err != nil {
		return errors.CombineErrors(err, unlockErr)
	}
	if unlockErr != nil {
		return errors.Wrapf(unlockErr, "unlocking %s", d.Name)
	}
	r.res.Rows += rows
	rowsTransferred.Add(float64(rows))
	logger.Info().Int64("rows", rows).Msgf("data copy complete")
	return nil
}

// prune drops relations that exist only on the target, along with any
// on-disk artifacts left over from previous runs.
func (r *run) prune(ctx context.Context, removes []plan.Decision) {
	for _, d := range removes {
		logger := r.logger.With().
			Str("relation", d.Name).
			Str("kind", d.Kind.String()).
			Logger()
		logger.Info().Msgf("removing orphaned relation")
		if err := r.dropRelation(ctx, d.Name, d.Kind); err != nil {
			logger.Err(err).Msgf("error removing relation")
			r.res.Errored = append(r.res.Errored, d.Name)
			continue
		}
		if err := transfer.ArtifactsFor(r.cfg.Dir, d.Name).Remove(); err != nil {
			logger.Err(err).Msgf("error removing artifacts")
			r.res.Errored = append(r.res.Errored, d.Name)
			continue
		}
		r.res.Removed++
		relationsProcessed.WithLabelValues(d.Action.String()).Inc()
	}
}

// assertConsistency re-queries row counts on both sides for every table
// believed synced. A mismatch does not stop the pass but marks the run
// failed.
func (r *run) assertConsistency(ctx context.Context) {
	for _, name := range r.synced {
		srcCount, err := countRows(ctx, r.source, name)
		if err != nil {
			r.logger.Err(err).Str("relation", name).Msgf("error counting source rows")
			r.res.Mismatched = append(r.res.Mismatched, name)
			continue
		}
		tgtCount, err := countRows(ctx, r.target, name)
		if err != nil {
			r.logger.Err(err).Str("relation", name).Msgf("error counting target rows")
			r.res.Mismatched = append(r.res.Mismatched, name)
			continue
		}
		if srcCount != tgtCount {
			r.logger.Error().
				Str("relation", name).
				Int64("source_rows", srcCount).
				Int64("target_rows", tgtCount).
				Msgf("row count mismatch")
			r.res.Mismatched = append(r.res.Mismatched, name)
			continue
		}
		r.logger.Debug().
			Str("relation", name).
			Int64("rows", srcCount).
			Msgf("row counts match")
	}
}

func (r *run) reconnectTarget(ctx context.Context) error {
	return retry.Do(ctx, reconnectSettings, func(attempt int) error {
		conn, err := r.target.Clone(ctx)
		if err != nil {
			return err
		}
		if err := conn.DB().PingContext(ctx); err != nil {
			return errors.CombineErrors(err, conn.Close(ctx))
		}
		_ = r.target.Close(ctx)
		r.target = conn
		if r.cfg.DisableFKChecks {
			return setFKChecks(ctx, r.target, false)
		}
		return nil
	})
}

func (r *run) dropRelation(ctx context.Context, name string, kind relation.Kind) error {
	stmt := "DROP TABLE IF EXISTS "
	if kind == relation.KindView {
		stmt = "DROP VIEW IF EXISTS "
	}
	_, err := r.target.DB().ExecContext(ctx, stmt+dbconn.QuoteIdent(r.target, name))
	return err
}

// lockRelation takes a target-side write lock for the duration of a data
// copy. The returned func releases it.
func (r *run) lockRelation(ctx context.Context, name string) (func() error, error) {
	if r.target.Dialect() == "mysql" {
		if _, err := r.target.DB().ExecContext(
			ctx, "LOCK TABLES "+dbconn.QuoteIdent(r.target, name)+" WRITE",
		); err != nil {
			return nil, err
		}
		return func() error {
			_, err := r.target.DB().ExecContext(ctx, "UNLOCK TABLES")
			return err
		}, nil
	}
	if _, err := r.target.DB().ExecContext(
		ctx, "SELECT pg_advisory_lock(hashtext($1))", name,
	); err != nil {
		return nil, err
	}
	return func() error {
		_, err := r.target.DB().ExecContext(ctx, "SELECT pg_advisory_unlock(hashtext($1))", name)
		return err
	}, nil
}

func setFKChecks(ctx context.Context, conn dbconn.Conn, enabled bool) error {
	var stmt string
	if conn.Dialect() == "mysql" {
		stmt = "SET SESSION foreign_key_checks = 0"
		if enabled {
			stmt = "SET SESSION foreign_key_checks = 1"
		}
	} else {
		stmt = "SET session_replication_role = 'replica'"
		if enabled {
			stmt = "SET session_replication_role = 'origin'"
		}
	}
	_, err := conn.DB().ExecContext(ctx, stmt)
	return err
}

func countRows(ctx context.Context, conn dbconn.Conn, name string) (int64, error) {
	var count int64
	err := conn.DB().QueryRowContext(
		ctx, "SELECT COUNT(*) FROM "+dbconn.QuoteIdent(conn, name),
	).Scan(&count)
	return count, err
}

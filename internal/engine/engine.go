// Package engine composes policy resolution, the baseline store, drift
// detection, restoration, and the audit log into soulguard's six
// top-level operations. Every function here takes its
// workspace root and state directory explicitly; there is no
// process-wide singleton.
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"

	"github.com/soulguard/soulguard/internal/audit"
	"github.com/soulguard/soulguard/internal/baseline"
	"github.com/soulguard/soulguard/internal/drift"
	"github.com/soulguard/soulguard/internal/hashio"
	"github.com/soulguard/soulguard/internal/output"
	"github.com/soulguard/soulguard/internal/policy"
	"github.com/soulguard/soulguard/internal/restorer"
)

// Engine binds a single (workspaceRoot, stateDir) pair for the duration
// of one command invocation.
type Engine struct {
	WorkspaceRoot string
	StateDir      string
	Now           func() time.Time
}

// New creates an Engine. now may be nil, in which case time.Now is used;
// tests override it for deterministic timestamps.
func New(workspaceRoot, stateDir string, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{WorkspaceRoot: workspaceRoot, StateDir: stateDir, Now: now}
}

const lockFileName = ".lock"

// withLock serializes baseline-mutating commands with a best-effort,
// advisory cross-process file lock, guarding against a watch loop and
// an interactive command racing on the same state directory.
func (e *Engine) withLock(fn func() error) error {
	if err := os.MkdirAll(e.StateDir, 0o750); err != nil {
		return fmt.Errorf("mkdir state dir: %w", err)
	}
	lock := flock.New(filepath.Join(e.StateDir, lockFileName))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("acquire state lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()
	return fn()
}

func (e *Engine) ensureStateDirs() error {
	dirs := []string{
		e.StateDir,
		filepath.Join(e.StateDir, baseline.ApprovedDir),
		filepath.Join(e.StateDir, drift.PatchDir),
		filepath.Join(e.StateDir, restorer.QuarantineDir),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return fmt.Errorf("mkdir %s: %w", d, err)
		}
	}
	return nil
}

func (e *Engine) appendAudit(rec audit.Record) error {
	rec.Workspace = e.WorkspaceRoot
	rec.StateDir = e.StateDir
	return audit.Append(e.StateDir, rec)
}

func (e *Engine) loadPolicyResolved() (*policy.Document, []policy.Target, error) {
	doc, err := policy.Load(e.StateDir)
	if err != nil {
		return nil, nil, fmt.Errorf("load policy: %w", err)
	}
	targets, err := policy.Resolve(doc, e.WorkspaceRoot)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve policy: %w", err)
	}
	return doc, targets, nil
}

// ---------------------------------------------------------------------
// init
// ---------------------------------------------------------------------

// InitFileResult reports the outcome of initializing one target.
type InitFileResult struct {
	RelPath    string
	Baselined  bool
	Skipped    bool
	SkipReason string
}

// InitResult is the outcome of Init.
type InitResult struct {
	PolicyWritten bool
	Files         []InitFileResult
}

// Init ensures the state directory layout and policy document exist,
// then snapshots every non-ignore target that has no baseline yet.
func (e *Engine) Init(actor, note string, forcePolicy bool) (InitResult, error) {
	var result InitResult

	err := e.withLock(func() error {
		if err := e.ensureStateDirs(); err != nil {
			return err
		}

		if forcePolicy || !policy.Exists(e.StateDir) {
			if err := policy.Save(e.StateDir, policy.Default(e.WorkspaceRoot)); err != nil {
				return fmt.Errorf("write default policy: %w", err)
			}
			result.PolicyWritten = true
		}

		_, targets, err := e.loadPolicyResolved()
		if err != nil {
			return err
		}

		idx, err := baseline.Load(e.StateDir)
		if err != nil {
			return fmt.Errorf("load baselines: %w", err)
		}

		now := e.Now()
		changed := false
		for _, tgt := range targets {
			if tgt.Mode == policy.ModeIgnore {
				continue
			}
			if _, has := baseline.Get(idx, tgt.RelPath); has && baseline.SnapshotExists(e.StateDir, tgt.RelPath) {
				continue // existing baselines are never overwritten
			}

			fr := InitFileResult{RelPath: tgt.RelPath}
			abs := filepath.Join(e.WorkspaceRoot, filepath.FromSlash(tgt.RelPath))

			if isLink, lerr := hashio.IsSymlink(abs); lerr != nil {
				return lerr
			} else if isLink {
				fr.Skipped = true
				fr.SkipReason = fmt.Sprintf("%s: %v", tgt.RelPath, hashio.ErrSymlink)
				result.Files = append(result.Files, fr)
				continue
			}

			content, rerr := os.ReadFile(abs)
			if rerr != nil {
				if os.IsNotExist(rerr) {
					fr.Skipped = true
					fr.SkipReason = fmt.Sprintf("Missing %s", tgt.RelPath)
					result.Files = append(result.Files, fr)
					continue
				}
				return fmt.Errorf("read %s: %w", abs, rerr)
			}

			if err := baseline.Set(e.StateDir, idx, tgt.RelPath, content, now); err != nil {
				return err
			}
			changed = true
			fr.Baselined = true
			result.Files = append(result.Files, fr)

			newEntry, _ := baseline.Get(idx, tgt.RelPath)
			rec := audit.NewRecord(audit.EventInit, actor, note)
			rec.Path = tgt.RelPath
			rec.Mode = string(tgt.Mode)
			rec.ApprovedSha = newEntry.SHA256
			if err := e.appendAudit(rec); err != nil {
				return err
			}
		}

		if changed {
			if err := baseline.Save(e.StateDir, idx); err != nil {
				return fmt.Errorf("save baselines: %w", err)
			}
		}
		return nil
	})
	return result, err
}

// ---------------------------------------------------------------------
// status
// ---------------------------------------------------------------------

// Status computes the current per-target report: existence, symlink
// state, approved and current hashes, and whether the target is clean.
func (e *Engine) Status() (output.Status, error) {
	_, targets, err := e.loadPolicyResolved()
	if err != nil {
		return output.Status{}, err
	}
	idx, err := baseline.Load(e.StateDir)
	if err != nil {
		return output.Status{}, fmt.Errorf("load baselines: %w", err)
	}

	status := output.Status{
		GeneratedAt:   e.Now().UTC().Format(time.RFC3339),
		WorkspaceRoot: e.WorkspaceRoot,
		StateDir:      e.StateDir,
	}

	for _, tgt := range targets {
		abs := filepath.Join(e.WorkspaceRoot, filepath.FromSlash(tgt.RelPath))
		f := output.StatusFile{Path: tgt.RelPath, Mode: string(tgt.Mode)}

		isLink, _ := hashio.IsSymlink(abs)
		f.IsSymlink = isLink

		if info, err := os.Stat(abs); err == nil && !info.IsDir() {
			f.Exists = true
		}

		entry, hasBaseline := baseline.Get(idx, tgt.RelPath)
		f.ApprovedSnapshot = baseline.SnapshotExists(e.StateDir, tgt.RelPath)
		if hasBaseline {
			f.ApprovedSha = entry.SHA256
		}

		if f.Exists && !isLink {
			if content, err := os.ReadFile(abs); err == nil {
				f.CurrentSha = hashio.SumBytes(content)
			}
		}

		f.OK = tgt.Mode == policy.ModeIgnore || (f.ApprovedSha != "" && f.CurrentSha == f.ApprovedSha)

		status.Files = append(status.Files, f)
	}

	return status, nil
}

// ---------------------------------------------------------------------
// check
// ---------------------------------------------------------------------

// CheckResult is the outcome of Check.
type CheckResult struct {
	Drifted bool
	Files   []output.DriftFile
}

// Check evaluates every non-ignore target for drift, recording a "drift"
// audit event for each one found, and restoring restore-mode targets
// unless noRestore is set (recording a "restore" event for each).
// Targets that are absent and have no baseline are skipped; symlinked
// targets are reported with their refusal error and never restored.
func (e *Engine) Check(actor, note string, noRestore bool) (CheckResult, error) {
	var result CheckResult

	err := e.withLock(func() error {
		if err := e.ensureStateDirs(); err != nil {
			return err
		}
		_, targets, err := e.loadPolicyResolved()
		if err != nil {
			return err
		}
		idx, err := baseline.Load(e.StateDir)
		if err != nil {
			return fmt.Errorf("load baselines: %w", err)
		}

		now := e.Now()
		for _, tgt := range targets {
			if tgt.Mode == policy.ModeIgnore {
				continue
			}

			dres, err := drift.Detect(e.WorkspaceRoot, e.StateDir, idx, tgt.RelPath, now)
			if err != nil {
				return fmt.Errorf("detect drift for %s: %w", tgt.RelPath, err)
			}
			if !dres.Drifted {
				continue
			}
			if _, has := baseline.Get(idx, tgt.RelPath); dres.Missing && !has {
				continue // never baselined and not present: nothing to protect
			}

			result.Drifted = true
			df := output.DriftFile{Path: tgt.RelPath, Mode: string(tgt.Mode), Patch: dres.PatchPath, Error: dres.Err}

			rec := audit.NewRecord(audit.EventDrift, actor, note)
			rec.Path = tgt.RelPath
			rec.Mode = string(tgt.Mode)
			rec.ApprovedSha = dres.ApprovedSha
			rec.CurrentSha = dres.CurrentSha
			rec.PatchPath = dres.PatchPath
			rec.Error = dres.Err
			if err := e.appendAudit(rec); err != nil {
				return err
			}

			_, hasBaseline := baseline.Get(idx, tgt.RelPath)
			isLink, _ := hashio.IsSymlink(filepath.Join(e.WorkspaceRoot, filepath.FromSlash(tgt.RelPath)))
			canRestore := hasBaseline && baseline.SnapshotExists(e.StateDir, tgt.RelPath) && !isLink

			if tgt.Mode == policy.ModeRestore && !noRestore && canRestore {
				rres, rerr := restorer.Restore(e.WorkspaceRoot, e.StateDir, tgt.RelPath, now)
				if rerr != nil {
					return fmt.Errorf("restore %s: %w", tgt.RelPath, rerr)
				}
				df.Restored = true

				restoreRec := audit.NewRecord(audit.EventRestore, actor, note)
				restoreRec.Path = tgt.RelPath
				restoreRec.Mode = string(tgt.Mode)
				restoreRec.QuarantinePath = rres.QuarantinePath
				if entry, ok := baseline.Get(idx, tgt.RelPath); ok {
					restoreRec.ApprovedSha = entry.SHA256
				}
				if err := e.appendAudit(restoreRec); err != nil {
					return err
				}
			}

			result.Files = append(result.Files, df)
		}
		return nil
	})
	return result, err
}

// ---------------------------------------------------------------------
// approve / restore target selection
// ---------------------------------------------------------------------

// ErrUnknownTarget is returned when approve/restore is given a path that
// is not covered by the policy (direct or pattern).
type ErrUnknownTarget struct{ RelPath string }

func (e ErrUnknownTarget) Error() string {
	return fmt.Sprintf("%s is not a known or covered target", e.RelPath)
}

func (e *Engine) selectExplicit(doc *policy.Document, files []string) ([]policy.Target, error) {
	var out []policy.Target
	for _, f := range files {
		mode, ok := policy.Lookup(doc, f)
		if !ok {
			return nil, ErrUnknownTarget{RelPath: f}
		}
		out = append(out, policy.Target{RelPath: f, Mode: mode})
	}
	return out, nil
}

// ---------------------------------------------------------------------
// approve
// ---------------------------------------------------------------------

// ApproveFileResult reports one target's approval outcome.
type ApproveFileResult struct {
	RelPath         string
	PrevApprovedSha string
	ApprovedSha     string
	PatchPath       string
}

// ApproveResult is the outcome of Approve.
type ApproveResult struct {
	Files []ApproveFileResult
}

// Approve overwrites the baseline (snapshot + sha) for the selected
// targets from their current live content, recording an "approve" diff
// and audit event for each.
func (e *Engine) Approve(actor, note string, files []string, all bool) (ApproveResult, error) {
	var result ApproveResult

	err := e.withLock(func() error {
		if err := e.ensureStateDirs(); err != nil {
			return err
		}
		doc, allTargets, err := e.loadPolicyResolved()
		if err != nil {
			return err
		}

		targets, err := e.resolveApproveRestoreTargets(doc, allTargets, files, all, false)
		if err != nil {
			return err
		}

		idx, err := baseline.Load(e.StateDir)
		if err != nil {
			return fmt.Errorf("load baselines: %w", err)
		}

		now := e.Now()
		for _, tgt := range targets {
			abs := filepath.Join(e.WorkspaceRoot, filepath.FromSlash(tgt.RelPath))
			if err := hashio.RefuseSymlink(abs); err != nil {
				return err
			}

			content, rerr := os.ReadFile(abs)
			if rerr != nil {
				return fmt.Errorf("read %s: %w", abs, rerr)
			}

			prevEntry, hadPrev := baseline.Get(idx, tgt.RelPath)

			patchPath, perr := drift.ApproveDiff(e.StateDir, tgt.RelPath, content, now)
			if perr != nil {
				return perr
			}

			if err := baseline.Set(e.StateDir, idx, tgt.RelPath, content, now); err != nil {
				return err
			}
			newEntry, _ := baseline.Get(idx, tgt.RelPath)

			fr := ApproveFileResult{RelPath: tgt.RelPath, ApprovedSha: newEntry.SHA256, PatchPath: patchPath}
			if hadPrev {
				fr.PrevApprovedSha = prevEntry.SHA256
			}
			result.Files = append(result.Files, fr)

			rec := audit.NewRecord(audit.EventApprove, actor, note)
			rec.Path = tgt.RelPath
			rec.Mode = string(tgt.Mode)
			rec.PrevApprovedSha = fr.PrevApprovedSha
			rec.ApprovedSha = fr.ApprovedSha
			rec.PatchPath = patchPath
			if err := e.appendAudit(rec); err != nil {
				return err
			}
		}

		if err := baseline.Save(e.StateDir, idx); err != nil {
			return fmt.Errorf("save baselines: %w", err)
		}
		return nil
	})
	return result, err
}

// resolveApproveRestoreTargets implements the selection rule shared by
// approve and restore: explicit --file list, or --all, or (with neither)
// a default of SOUL.md if present. When restoreOnly is true, the
// resolved set is additionally filtered to restore-mode targets (used by
// the restore command).
func (e *Engine) resolveApproveRestoreTargets(doc *policy.Document, allTargets []policy.Target, files []string, all bool, restoreOnly bool) ([]policy.Target, error) {
	var targets []policy.Target
	isDefault := len(files) == 0 && !all

	switch {
	case len(files) > 0:
		explicit, err := e.selectExplicit(doc, files)
		if err != nil {
			return nil, err
		}
		targets = explicit
	case all:
		targets = append(targets, allTargets...)
	default:
		mode, ok := policy.Lookup(doc, "SOUL.md")
		if ok {
			targets = append(targets, policy.Target{RelPath: "SOUL.md", Mode: mode})
		}
	}

	if restoreOnly {
		var filtered []policy.Target
		for _, t := range targets {
			if t.Mode == policy.ModeRestore {
				filtered = append(filtered, t)
			}
		}
		targets = filtered
	} else {
		var filtered []policy.Target
		for _, t := range targets {
			if t.Mode != policy.ModeIgnore {
				filtered = append(filtered, t)
			}
		}
		targets = filtered
	}

	if isDefault && len(targets) == 0 {
		if restoreOnly {
			return nil, fmt.Errorf("no files selected to restore")
		}
		return nil, fmt.Errorf("no files selected to approve")
	}

	sort.Slice(targets, func(i, j int) bool { return targets[i].RelPath < targets[j].RelPath })
	return targets, nil
}

// ---------------------------------------------------------------------
// restore
// ---------------------------------------------------------------------

// RestoreFileResult reports one target's restore outcome.
type RestoreFileResult struct {
	RelPath        string
	Restored       bool
	QuarantinePath string
}

// RestoreResult is the outcome of Restore.
type RestoreResult struct {
	Files []RestoreFileResult
}

// Restore restores every drifted restore-mode target in the selection
// from its approved baseline, recording a "restore" audit event for
// each. Targets without drift are reported but produce no audit entry.
func (e *Engine) Restore(actor, note string, files []string, all bool) (RestoreResult, error) {
	var result RestoreResult

	err := e.withLock(func() error {
		if err := e.ensureStateDirs(); err != nil {
			return err
		}
		doc, allTargets, err := e.loadPolicyResolved()
		if err != nil {
			return err
		}

		targets, err := e.resolveApproveRestoreTargets(doc, allTargets, files, all, true)
		if err != nil {
			return err
		}

		idx, err := baseline.Load(e.StateDir)
		if err != nil {
			return fmt.Errorf("load baselines: %w", err)
		}

		now := e.Now()
		for _, tgt := range targets {
			dres, derr := drift.Detect(e.WorkspaceRoot, e.StateDir, idx, tgt.RelPath, now)
			if derr != nil {
				return fmt.Errorf("detect drift for %s: %w", tgt.RelPath, derr)
			}
			if !dres.Drifted {
				result.Files = append(result.Files, RestoreFileResult{RelPath: tgt.RelPath, Restored: false})
				continue
			}

			rres, rerr := restorer.Restore(e.WorkspaceRoot, e.StateDir, tgt.RelPath, now)
			if rerr != nil {
				return fmt.Errorf("restore %s: %w", tgt.RelPath, rerr)
			}

			result.Files = append(result.Files, RestoreFileResult{RelPath: tgt.RelPath, Restored: true, QuarantinePath: rres.QuarantinePath})

			rec := audit.NewRecord(audit.EventRestore, actor, note)
			rec.Path = tgt.RelPath
			rec.Mode = string(tgt.Mode)
			rec.QuarantinePath = rres.QuarantinePath
			if entry, ok := baseline.Get(idx, tgt.RelPath); ok {
				rec.ApprovedSha = entry.SHA256
			}
			if err := e.appendAudit(rec); err != nil {
				return err
			}
		}
		return nil
	})
	return result, err
}

// ---------------------------------------------------------------------
// verify-audit
// ---------------------------------------------------------------------

// VerifyAudit runs the full hash-chain verification pass over the audit
// log.
func (e *Engine) VerifyAudit() (audit.VerifyResult, error) {
	return audit.Verify(e.StateDir)
}

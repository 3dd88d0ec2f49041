// Package audit implements a tamper-evident, hash-chained audit log:
// append-only JSON lines where each record's chain.hash covers the
// previous record's hash, legacy-format detection and one-time
// rotation, and full-chain verification.
package audit

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// GenesisHash is the virtual predecessor hash of the first audit record:
// 64 ASCII zero characters.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

const genesis = GenesisHash

// FileName is the audit log's file name under the state directory.
const FileName = "audit.jsonl"

const tailReadSize = 64 * 1024

// Event kinds recorded verbatim in the "event" field.
const (
	EventInit    = "init"
	EventDrift   = "drift"
	EventRestore = "restore"
	EventApprove = "approve"
)

// Record is one audit entry, pre-chain. ID is a correlation identifier
// assigned by NewRecord; chain metadata is computed and attached by Append.
type Record struct {
	ID      string `json:"id,omitempty"`
	TS      string `json:"ts"`
	Event   string `json:"event"`
	Actor   string `json:"actor"`
	Note    string `json:"note"`

	Path            string `json:"path,omitempty"`
	Mode            string `json:"mode,omitempty"`
	ApprovedSha     string `json:"approvedSha,omitempty"`
	CurrentSha      string `json:"currentSha,omitempty"`
	PrevApprovedSha string `json:"prevApprovedSha,omitempty"`
	PatchPath       string `json:"patchPath,omitempty"`
	QuarantinePath  string `json:"quarantinePath,omitempty"`
	Error           string `json:"error,omitempty"`
	Workspace       string `json:"workspace,omitempty"`
	StateDir        string `json:"stateDir,omitempty"`

	Chain *Chain `json:"chain,omitempty"`
}

// Chain carries the hash-chain metadata attached to every stored record.
type Chain struct {
	Prev string `json:"prev"`
	Hash string `json:"hash"`
}

func Path(stateDir string) string {
	return filepath.Join(stateDir, FileName)
}

// NewRecord fills TS and ID defaults for a record about to be appended.
func NewRecord(event, actor, note string) Record {
	return Record{
		ID:    "evt-" + uuid.NewString(),
		TS:    time.Now().UTC().Format(time.RFC3339Nano),
		Event: event,
		Actor: actor,
		Note:  note,
	}
}

// canonicalJSON produces the canonical byte serialization used for
// hashing: keys sorted, no insignificant whitespace, UTF-8. It hashes a
// record with its chain field stripped.
func canonicalJSON(r Record) ([]byte, error) {
	withoutChain := r
	withoutChain.Chain = nil
	raw, err := marshalNoEscape(withoutChain)
	if err != nil {
		return nil, err
	}
	m := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(m[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshalNoEscape marshals v without HTML-escaping "<", ">" and "&", so
// canonical serialization and the on-disk form agree byte-for-byte with
// what a reader would naively re-encode.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func chainHash(prev string, rec Record) (string, error) {
	c, err := canonicalJSON(rec)
	if err != nil {
		return "", fmt.Errorf("canonicalize record: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write([]byte("\n"))
	h.Write(c)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// tailLastLine seeks to the end of the log and returns the last
// non-empty line without loading the whole file.
func tailLastLine(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	size := info.Size()
	readSize := int64(tailReadSize)
	if size < readSize {
		readSize = size
	}
	buf := make([]byte, readSize)
	if _, err := f.ReadAt(buf, size-readSize); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read tail of %s: %w", path, err)
	}

	lines := bytes.Split(buf, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) > 0 {
			return line, nil
		}
	}
	return nil, nil
}

func lastChainHash(path string) (string, error) {
	line, err := tailLastLine(path)
	if err != nil {
		return "", err
	}
	if line == nil {
		return genesis, nil
	}
	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return "", fmt.Errorf("parse last audit line: %w", err)
	}
	if rec.Chain == nil {
		return "", fmt.Errorf("last audit line has no chain field")
	}
	return rec.Chain.Hash, nil
}

// isLegacyOrUnreadable samples the first non-empty line of the log and
// reports whether it is legacy (parses but lacks "chain") or unreadable
// (fails to parse). A missing or empty file is neither.
func isLegacyOrUnreadable(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(line, &probe); err != nil {
			return true, nil
		}
		if _, hasChain := probe["chain"]; !hasChain {
			return true, nil
		}
		return false, nil
	}
	return false, scanner.Err()
}

// rotateLegacy renames audit.jsonl to audit.legacy.<ts>.jsonl. Rotation
// happens at most once per invocation and is itself not logged.
func rotateLegacy(stateDir string) error {
	src := Path(stateDir)
	ts := time.Now().UTC().Format("20060102T150405Z")
	dst := filepath.Join(stateDir, fmt.Sprintf("audit.legacy.%s.jsonl", ts))
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("rotate legacy audit log: %w", err)
	}
	return nil
}

// Append writes rec to the audit log under stateDir, computing its
// chain.prev/chain.hash from the current tail. If the existing log is
// legacy or unreadable, it is rotated to audit.legacy.<ts>.jsonl first
// and the new chain starts from genesis.
func Append(stateDir string, rec Record) error {
	path := Path(stateDir)

	legacy, err := isLegacyOrUnreadable(path)
	if err != nil {
		return err
	}
	if legacy {
		if err := rotateLegacy(stateDir); err != nil {
			return err
		}
	}

	prev, err := lastChainHash(path)
	if err != nil {
		return err
	}
	hash, err := chainHash(prev, rec)
	if err != nil {
		return err
	}
	rec.Chain = &Chain{Prev: prev, Hash: hash}

	line, err := marshalNoEscape(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	line = append(line, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if _, err := bw.Write(line); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	return bw.Flush()
}

// VerifyResult is the outcome of a full-chain verification pass.
type VerifyResult struct {
	OK          bool
	Message     string
	LineNumber  int // 1-indexed line at which verification failed, 0 if OK
	RecordCount int
}

// Verify replays every line in
// order, checking each record's chain.prev against the running hash and
// recomputing chain.hash. A legacy (un-rotated) log refuses verification
// with a remediation hint.
func Verify(stateDir string) (VerifyResult, error) {
	path := Path(stateDir)

	legacy, err := isLegacyOrUnreadable(path)
	if err != nil {
		return VerifyResult{}, err
	}
	if legacy {
		return VerifyResult{}, fmt.Errorf("audit log is in legacy format; run any command that appends (e.g. \"init\" or \"check\") first to rotate it")
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return VerifyResult{OK: true, Message: "audit log is empty"}, nil
		}
		return VerifyResult{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	prev := genesis
	lineNo := 0
	count := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return VerifyResult{OK: false, LineNumber: lineNo, Message: fmt.Sprintf("line %d: invalid JSON: %v", lineNo, err)}, nil
		}
		if rec.Chain == nil {
			return VerifyResult{OK: false, LineNumber: lineNo, Message: fmt.Sprintf("line %d: missing chain field", lineNo)}, nil
		}
		if rec.Chain.Prev != prev {
			return VerifyResult{OK: false, LineNumber: lineNo, Message: fmt.Sprintf("line %d: chain.prev mismatch (expected %s, got %s)", lineNo, prev, rec.Chain.Prev)}, nil
		}
		wantHash, err := chainHash(prev, rec)
		if err != nil {
			return VerifyResult{}, err
		}
		if rec.Chain.Hash != wantHash {
			return VerifyResult{OK: false, LineNumber: lineNo, Message: fmt.Sprintf("line %d: chain.hash mismatch (expected %s, got %s)", lineNo, wantHash, rec.Chain.Hash)}, nil
		}
		prev = rec.Chain.Hash
		count++
	}
	if err := scanner.Err(); err != nil {
		return VerifyResult{}, fmt.Errorf("scan %s: %w", path, err)
	}

	if count == 0 {
		return VerifyResult{OK: true, Message: "audit log is empty"}, nil
	}
	return VerifyResult{OK: true, Message: fmt.Sprintf("%d record(s) verified", count), RecordCount: count}, nil
}

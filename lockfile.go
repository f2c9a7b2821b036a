package fwbuild

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const lockTableName = "locks.json"

// Key type values recorded in the lock table.
const (
	KeyTypeProject = "project"
	KeyTypePort    = "port"
)

// LockRecord is one persisted lock: which key, which request, which process.
// KeyType distinguishes project and port entries so the recovery sweep can
// reset the matching port state.
type LockRecord struct {
	Key        string    `json:"key"`
	KeyType    string    `json:"key_type"` // "project" or "port"
	Holder     string    `json:"holder_request_id"`
	PID        int       `json:"process_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Age returns how long the record has been held
func (rec LockRecord) Age() time.Duration { return time.Since(rec.AcquiredAt) }

// Stale reports whether the owning process no longer exists
func (rec LockRecord) Stale() bool { return !processAlive(rec.PID) }

// LockTable is the cross-process lock file: one record per held key,
// rewritten atomically on each acquire and release. Concurrent processes
// serialize on an flock'd guard file next to the table. The table is
// authoritative between processes: a claim on a key whose record belongs
// to another live request is refused, never overwritten.
type LockTable struct {
	mu    sync.Mutex
	dir   string
	path  string
	kinds map[string]string
}

// NewLockTable opens (creating if needed) the lock table in dir
func NewLockTable(dir string) (*LockTable, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateDirUnavailable, err)
	}
	return &LockTable{
		dir:   dir,
		path:  filepath.Join(dir, lockTableName),
		kinds: make(map[string]string),
	}, nil
}

// noteKind registers the record type to persist for key. Callers that know
// whether a key names a project or a port register it before acquiring;
// keys without a hint fall back to path-shape classification.
func (t *LockTable) noteKind(key, kind string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.kinds[key] = kind
}

// kindOf returns the registered kind for key. Caller holds t.mu.
func (t *LockTable) kindOf(key string) string {
	if kind, ok := t.kinds[key]; ok {
		return kind
	}
	return classifyKey(key)
}

// Path returns the location of the lock table file
func (t *LockTable) Path() string { return t.path }

// Records returns the current contents of the lock table
func (t *LockTable) Records() ([]LockRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	guard, err := t.flockGuard()
	if err != nil {
		return nil, err
	}
	defer guard.Close()

	return t.load()
}

// Sweep removes records whose owning process no longer exists and returns
// them. It runs at startup, never concurrently with live requests; it is the
// only mechanism that clears lock state without an explicit release.
func (t *LockTable) Sweep() ([]LockRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	guard, err := t.flockGuard()
	if err != nil {
		return nil, err
	}
	defer guard.Close()

	records, err := t.load()
	if err != nil {
		return nil, err
	}

	var live []LockRecord
	var reclaimed []LockRecord
	for _, rec := range records {
		if rec.Stale() {
			reclaimed = append(reclaimed, rec)
			continue
		}
		live = append(live, rec)
	}

	if len(reclaimed) == 0 {
		return nil, nil
	}
	if err := t.save(live); err != nil {
		return nil, err
	}
	return reclaimed, nil
}

// claim writes a record for key under the flock guard. A record already
// held by a different live request refuses the claim and is returned to
// the caller unchanged; records left behind by dead processes are
// overwritten.
func (t *LockTable) claim(key, holder string) (*LockRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	guard, err := t.flockGuard()
	if err != nil {
		return nil, err
	}
	defer guard.Close()

	records, err := t.load()
	if err != nil {
		records = nil
	}

	updated := records[:0]
	for _, rec := range records {
		if rec.Key != key {
			updated = append(updated, rec)
			continue
		}
		if rec.Holder != holder && !rec.Stale() {
			conflict := rec
			return &conflict, nil
		}
		// Our own or a dead process's record: replaced below.
	}
	updated = append(updated, LockRecord{
		Key:        key,
		KeyType:    t.kindOf(key),
		Holder:     holder,
		PID:        os.Getpid(),
		AcquiredAt: time.Now(),
	})
	return nil, t.save(updated)
}

// noteReleased removes holder's record for key. Records owned by other
// requests are left alone, so an abandoned claim cannot erase a live
// foreign lock.
func (t *LockTable) noteReleased(key, holder string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	guard, err := t.flockGuard()
	if err != nil {
		return
	}
	defer guard.Close()

	records, err := t.load()
	if err != nil {
		return
	}

	updated := records[:0]
	for _, rec := range records {
		if rec.Key != key || rec.Holder != holder {
			updated = append(updated, rec)
		}
	}
	_ = t.save(updated)
}

func (t *LockTable) load() ([]LockRecord, error) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var records []LockRecord
	if err := json.Unmarshal(data, &records); err != nil {
		// A torn or corrupt table is treated as empty rather than wedging
		// every future acquire.
		return nil, nil
	}
	return records, nil
}

// save writes the table atomically: temp file in the same directory, then
// rename over the old one.
func (t *LockTable) save(records []LockRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(t.dir, lockTableName+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, t.path)
}

// flockGuard takes an exclusive flock on the guard file for the duration of
// one read-modify-write cycle.
func (t *LockTable) flockGuard() (*os.File, error) {
	f, err := os.OpenFile(t.path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, err
	}
	// Flock releases on close
	return f, nil
}

// processAlive probes pid with signal 0. EPERM means the process exists but
// belongs to another user, which still counts as alive.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, unix.EPERM)
}

// classifyKey tells project keys from port keys by shape: canonical port
// keys are device paths under /dev, project keys are directories elsewhere.
// Only a fallback for keys with no registered kind; the coordinator knows
// the kind and registers it via noteKind.
func classifyKey(key string) string {
	if strings.HasPrefix(key, "/dev/") {
		return KeyTypePort
	}
	return KeyTypeProject
}

package kv

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
)

// UniqueStore holds one lock per job fingerprint, valued with the owning job id.
type UniqueStore struct {
	store *Store
}

// NewUniqueStore creates a new UniqueStore.
func NewUniqueStore(kv jetstream.KeyValue) *UniqueStore {
	return &UniqueStore{store: NewStore(kv)}
}

// CheckAndSet tries to take the lock for fingerprint on behalf of jobID.
// It returns the current owner when the lock is already held, or "" once acquired.
func (u *UniqueStore) CheckAndSet(ctx context.Context, fingerprint, jobID string) (string, error) {
	_, err := u.store.Create(ctx, fingerprint, []byte(jobID))
	if err == nil {
		return "", nil
	}
	if !errors.Is(err, jetstream.ErrKeyExists) {
		return "", err
	}
	data, _, getErr := u.store.Get(ctx, fingerprint)
	if getErr != nil {
		if IsNotFound(getErr) {
			// released between create and get; try once more
			if _, err := u.store.Create(ctx, fingerprint, []byte(jobID)); err == nil {
				return "", nil
			}
		}
		return "", getErr
	}
	return string(data), nil
}

// Acquire unconditionally assigns the lock to jobID.
func (u *UniqueStore) Acquire(ctx context.Context, fingerprint, jobID string) error {
	_, err := u.store.Put(ctx, fingerprint, []byte(jobID))
	return err
}

// Release drops the lock if jobID still owns it.
func (u *UniqueStore) Release(ctx context.Context, fingerprint, jobID string) error {
	data, _, err := u.store.Get(ctx, fingerprint)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}
	if string(data) != jobID {
		return nil
	}
	return u.store.Delete(ctx, fingerprint)
}

// fingerprintFields are the job fields a unique policy may name.
var fingerprintFields = map[string]func(*core.Job) []byte{
	"args":  func(j *core.Job) []byte { return j.Args },
	"queue": func(j *core.Job) []byte { return []byte(j.Queue) },
	"type":  func(j *core.Job) []byte { return []byte(j.Type) },
}

// ComputeFingerprint hashes the job fields named by its unique policy,
// defaulting to type and args. Field order in the policy is irrelevant and
// unknown field names are ignored.
func ComputeFingerprint(job *core.Job) string {
	keys := []string{"type", "args"}
	if job.Unique != nil && len(job.Unique.Keys) > 0 {
		keys = append([]string(nil), job.Unique.Keys...)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, key := range keys {
		field, ok := fingerprintFields[key]
		if !ok {
			continue
		}
		h.Write([]byte(key + ":"))
		h.Write(field(job))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Package journal records one JSON entry per applied relation save so the
// link history of a parent can be audited after the fact.
package journal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"linkcore/internal/infra/journal/fs"
	"linkcore/internal/infra/journal/memory"
	"linkcore/internal/infra/journal/s3"
	"linkcore/internal/journal/core"
)

type (
	// Driver identifies a journal backend driver.
	Driver = core.Driver
	// Info describes stored object metadata.
	Info = core.Info
	// PutOptions carries content type and metadata for Put.
	PutOptions = core.PutOptions
	// Store is the interface for journal storage backends.
	Store = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

// Open selects a journal Store using environment variables.
//
//	LINKCORE_JOURNAL_DRIVER: memory|fs|s3 (default memory)
//	LINKCORE_JOURNAL_FS_ROOT: directory root when driver=fs (default ./journal)
//	(S3 specific variables documented in internal/infra/journal/s3)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("LINKCORE_JOURNAL_DRIVER")
	if driver == "" {
		driver = string(DriverMemory)
	}
	switch Driver(driver) {
	case DriverMemory:
		return memory.New(), nil
	case DriverFilesystem:
		return fs.New(os.Getenv("LINKCORE_JOURNAL_FS_ROOT"))
	case DriverS3:
		return s3.OpenFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unknown journal driver %s", driver)
	}
}

// Entry captures the effect of one relation save on one parent.
type Entry struct {
	Relation  string    `json:"relation"`
	ParentID  string    `json:"parent_id"`
	Linked    []string  `json:"linked,omitempty"`
	Unlinked  []string  `json:"unlinked,omitempty"`
	Destroyed []string  `json:"destroyed,omitempty"`
	SavedAt   time.Time `json:"saved_at"`
}

// Empty reports whether the entry carries no link changes.
func (e Entry) Empty() bool {
	return len(e.Linked) == 0 && len(e.Unlinked) == 0 && len(e.Destroyed) == 0
}

// Recorder writes and reads entries on a Store.
type Recorder struct {
	store Store
	newID func() string
}

// NewRecorder wraps store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, newID: uuid.NewString}
}

// Store returns the backing store.
func (r *Recorder) Store() Store { return r.store }

// Key returns the object key an entry is stored under. Zero-padded
// nanoseconds keep lexical order chronological; the suffix separates entries
// saved in the same instant.
func Key(e Entry, suffix string) string {
	return fmt.Sprintf("%s%020d-%s.json", Prefix(e.Relation, e.ParentID), e.SavedAt.UnixNano(), suffix)
}

// Prefix returns the key prefix shared by every entry of one parent.
func Prefix(relation, parentID string) string {
	return relation + "/" + parentID + "/"
}

// Record stores e as JSON.
func (r *Recorder) Record(ctx context.Context, e Entry) (Info, error) {
	if e.Relation == "" || e.ParentID == "" {
		return Info{}, errors.New("journal entry requires relation and parent id")
	}
	if strings.Contains(e.Relation, "/") || strings.Contains(e.ParentID, "/") {
		return Info{}, fmt.Errorf("journal entry %s/%s: key segments must not contain '/'", e.Relation, e.ParentID)
	}
	if e.SavedAt.IsZero() {
		e.SavedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return Info{}, fmt.Errorf("encode journal entry: %w", err)
	}
	return r.store.Put(ctx, Key(e, r.newID()), bytes.NewReader(payload), PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"relation": e.Relation, "parent": e.ParentID},
	})
}

// Entries returns every entry recorded for parentID on relation, oldest first.
func (r *Recorder) Entries(ctx context.Context, relation, parentID string) ([]Entry, error) {
	infos, err := r.store.List(ctx, Prefix(relation, parentID))
	if err != nil {
		return nil, fmt.Errorf("list journal %s/%s: %w", relation, parentID, err)
	}
	out := make([]Entry, 0, len(infos))
	for _, info := range infos {
		e, err := r.read(ctx, info.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *Recorder) read(ctx context.Context, key string) (Entry, error) {
	_, rc, err := r.store.Get(ctx, key)
	if err != nil {
		return Entry{}, fmt.Errorf("read journal %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	var e Entry
	if err := json.NewDecoder(rc).Decode(&e); err != nil {
		return Entry{}, fmt.Errorf("decode journal %s: %w", key, err)
	}
	return e, nil
}

package fs

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lignum/dpp/pkg/core"
)

// TombstoneFile is the append-only log of deleted passports, one JSON object
// per line, kept in the system directory.
const TombstoneFile = "tombstones.jsonl"

// Tombstone is the final version of a deleted passport.
type Tombstone struct {
	ID        string        `json:"id"`
	DeletedAt time.Time     `json:"deletedAt"`
	Document  core.Document `json:"document"`
}

type tombstoneLine struct {
	ID        string          `json:"id"`
	DeletedAt time.Time       `json:"deletedAt"`
	Document  json.RawMessage `json:"document"`
}

func (r *Repository) tombstonePath() string {
	return filepath.Join(r.Root(), r.config.SystemDir, TombstoneFile)
}

func (r *Repository) appendTombstone(final core.Document) error {
	deletedAt := final.Modified()
	if deletedAt.IsZero() {
		deletedAt = time.Now().UTC()
	}
	line, err := json.Marshal(Tombstone{ID: final.ID(), DeletedAt: deletedAt, Document: final})
	if err != nil {
		return err
	}

	r.tombMu.Lock()
	defer r.tombMu.Unlock()

	path := r.tombstonePath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Tombstones reads the tombstone log in append order.
func (r *Repository) Tombstones(ctx context.Context) ([]Tombstone, error) {
	r.tombMu.Lock()
	defer r.tombMu.Unlock()

	f, err := os.Open(r.tombstonePath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Tombstone
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for n := 1; scanner.Scan(); n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var line tombstoneLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", TombstoneFile, n, err)
		}
		doc, err := core.ParseDocument(line.Document)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", TombstoneFile, n, err)
		}
		out = append(out, Tombstone{ID: line.ID, DeletedAt: line.DeletedAt, Document: doc})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

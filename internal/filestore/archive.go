package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/xxxsen/lavadoc/internal/model"
	appErr "github.com/xxxsen/lavadoc/internal/pkg/errors"
)

// VersionArchive stores evicted version records as v<version>.json.
type VersionArchive struct {
	store Store
}

func NewVersionArchive(store Store) *VersionArchive {
	return &VersionArchive{store: store}
}

func VersionKey(version int) string {
	return fmt.Sprintf("v%d.json", version)
}

// Archive writes every record and returns the first error after trying all of them.
func (a *VersionArchive) Archive(ctx context.Context, records []model.VersionRecord) error {
	var errs []error
	for i := range records {
		data, err := json.Marshal(&records[i])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		key := VersionKey(records[i].Version)
		if err := a.store.Save(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
			errs = append(errs, fmt.Errorf("archive %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (a *VersionArchive) Load(ctx context.Context, version int) (*model.VersionRecord, error) {
	rc, err := a.store.Open(ctx, VersionKey(version))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	defer rc.Close()
	var rec model.VersionRecord
	if err := json.NewDecoder(rc).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode archived version %d: %w", version, err)
	}
	return &rec, nil
}

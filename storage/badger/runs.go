// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.



package badger

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/taxcrawl/core"
	"github.com/poiesic/taxcrawl/storage"
)

// RunRepository implements storage.RunRepository for BadgerDB.
type RunRepository struct {
	backend *Backend
}

var _ storage.RunRepository = (*RunRepository)(nil)

// NewRunRepository creates a new RunRepository.
func NewRunRepository(backend *Backend) *RunRepository {
	return &RunRepository{
		backend: backend,
	}
}

// SaveRun persists a run report keyed by start time and ID.
func (r *RunRepository) SaveRun(ctx context.Context, report *core.RunReport) error {
	if report.ID == "" {
		return fmt.Errorf("%w: run report has no ID", storage.ErrInvalidQuery)
	}
	return r.backend.WithTx(func(tx *badger.Txn) error {
		value, err := storage.MarshalRun(report)
		if err != nil {
			return err
		}
		if err := tx.Set(makeRunKey(report.StartedAt, report.ID), value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// ListRuns returns up to limit reports, most recently started first.
func (r *RunRepository) ListRuns(ctx context.Context, limit int) ([]*core.RunReport, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", storage.ErrInvalidQuery, limit)
	}

	var results []*core.RunReport
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		iter := tx.NewIterator(opts)
		defer iter.Close()

		// Seek past the newest possible run key and walk backwards
		prefix := []byte(runPrefix + ":")
		startKey := append(makePartialRunKey(time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)), 0xff)

		for iter.Seek(startKey); iter.Valid() && len(results) < limit; iter.Next() {
			item := iter.Item()
			if !bytes.HasPrefix(item.Key(), prefix) {
				break
			}
			err := item.Value(func(val []byte) error {
				report, err := storage.UnmarshalRun(val)
				if err != nil {
					return err
				}
				results = append(results, report)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)

	return results, err
}

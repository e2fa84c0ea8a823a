package bolt

import (
	"context"

	"github.com/goodtune/dutytrack/internal/storage"
	"go.etcd.io/bbolt"
)

type snapshotStore struct {
	db *bbolt.DB
}

func (s *snapshotStore) Save(ctx context.Context, snapshot storage.Snapshot) error {
	snapshot.Normalize()
	return putBucketValue(ctx, s.db, bucketSnapshot, snapshotKey, snapshot)
}

func (s *snapshotStore) Load(ctx context.Context) (*storage.Snapshot, error) {
	snapshot, err := getBucketValue[storage.Snapshot](ctx, s.db, bucketSnapshot, snapshotKey)
	if err != nil {
		return nil, err
	}
	snapshot.Normalize()
	return snapshot, nil
}

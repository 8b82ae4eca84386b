// Package archive writes terminal executions to a blob bucket for audit
// retention, supporting S3, GCS, Azure Blob Storage, and in-memory buckets
package archive

import (
	"context"
	"encoding/json"
	"fmt"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/loomhq/loom/internal/store"
	"github.com/loomhq/loom/pkg/api"
)

type (
	// Archiver stores and retrieves execution snapshots
	Archiver interface {
		Put(context.Context, *api.Execution) error
		Get(context.Context, string) (*api.Execution, error)
		Close() error
	}

	// BlobArchiver implements Archiver on a gocloud.dev blob bucket
	BlobArchiver struct {
		bucket *blob.Bucket
		prefix string
	}
)

var _ Archiver = (*BlobArchiver)(nil)

// NewBlobArchiver opens the bucket at the given URL (e.g. s3://..., mem://)
func NewBlobArchiver(
	ctx context.Context, bucketURL, prefix string,
) (*BlobArchiver, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return &BlobArchiver{bucket: bucket, prefix: prefix}, nil
}

func (a *BlobArchiver) Put(ctx context.Context, ex *api.Execution) error {
	data, err := json.Marshal(ex)
	if err != nil {
		return err
	}
	return a.bucket.WriteAll(ctx, a.keyFor(ex.ID), data, nil)
}

func (a *BlobArchiver) Get(
	ctx context.Context, id string,
) (*api.Execution, error) {
	data, err := a.bucket.ReadAll(ctx, a.keyFor(id))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", store.ErrExecutionNotFound, id)
		}
		return nil, err
	}

	var ex api.Execution
	if err := json.Unmarshal(data, &ex); err != nil {
		return nil, err
	}
	return &ex, nil
}

func (a *BlobArchiver) Close() error {
	return a.bucket.Close()
}

func (a *BlobArchiver) keyFor(id string) string {
	return a.prefix + id + ".json"
}

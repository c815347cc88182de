package storage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"

	"github.com/janelia-flyem/planar/planar"
)

// OpenBucket returns a bucket holding the resource and the key prefix under which the
// resource lives.  Local references must be existing directories.  Object-storage
// references are opened in place; their existence is not checked here and failures
// surface from later reads.
func OpenBucket(ctx context.Context, res *Resource) (*blob.Bucket, string, error) {
	switch {
	case res.IsLocal():
		fi, err := os.Stat(res.Path)
		if err != nil || !fi.IsDir() {
			return nil, "", planar.NotFound("open", res.Path)
		}
		bucket, err := fileblob.OpenBucket(res.Path, nil)
		if err != nil {
			return nil, "", planar.OpenFailure("open", res.Path, err)
		}
		return bucket, "", nil

	case res.IsObjectStore():
		bucketURL := fmt.Sprintf("%s://%s", res.Scheme, res.Bucket())
		if q := res.Query(); q != "" {
			bucketURL += "?" + q
		}
		bucket, err := blob.OpenBucket(ctx, bucketURL)
		if err != nil {
			return nil, "", planar.OpenFailure("open", res.Ref, err)
		}
		prefix := strings.Trim(res.Key(), "/")
		if prefix != "" {
			prefix += "/"
		}
		return bucket, prefix, nil
	}
	return nil, "", errUnsupportedScheme(res)
}

// IsNotExist returns true if the error from a bucket operation means the key is absent.
func IsNotExist(err error) bool {
	return err != nil && gcerrors.Code(err) == gcerrors.NotFound
}

// ReadObject reads a whole object, converting a missing key into planar.ErrNotFound.
func ReadObject(ctx context.Context, bucket *blob.Bucket, key string) ([]byte, error) {
	data, err := bucket.ReadAll(ctx, key)
	if err != nil {
		if IsNotExist(err) {
			return nil, planar.NotFound("read", key)
		}
		return nil, planar.NewError("read", key, planar.ErrOpenFailure, err)
	}
	return data, nil
}

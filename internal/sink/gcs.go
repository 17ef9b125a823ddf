package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCS is a Sink over a Cloud Storage bucket. Folders are "bucket/prefix"
// strings and file IDs are "bucket/object" paths.
type GCS struct {
	client *storage.Client
}

// NewGCS uses application default credentials unless opts say otherwise.
func NewGCS(ctx context.Context, opts ...option.ClientOption) (*GCS, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCS{client: client}, nil
}

func (g *GCS) Close() error { return g.client.Close() }

func (g *GCS) ListPDFs(ctx context.Context, folder string) ([]File, error) {
	bucket, prefix := splitPath(folder)
	if prefix != "" {
		prefix += "/"
	}
	it := g.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: "/"})

	var out []File
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", folder, classifyGCS(err))
		}
		if attrs.Prefix != "" || !IsPDF(attrs.Name) {
			continue
		}
		out = append(out, File{ID: bucket + "/" + attrs.Name, Name: path.Base(attrs.Name)})
	}
	return out, nil
}

func (g *GCS) Download(ctx context.Context, id string) ([]byte, error) {
	bucket, name := splitPath(id)
	r, err := g.client.Bucket(bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", id, classifyGCS(err))
	}
	defer r.Close()

	data, err := io.ReadAll(io.LimitReader(r, MaxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, classifyGCS(err))
	}
	if len(data) > MaxDownloadBytes {
		return nil, fmt.Errorf("download %s: %w", id, ErrTooLarge)
	}
	return data, nil
}

// EnsureResultFolder only computes the prefix; object stores have no
// folders to create.
func (g *GCS) EnsureResultFolder(_ context.Context, parent string) (string, error) {
	return ResultFolder(parent), nil
}

func (g *GCS) UploadReport(ctx context.Context, folder, name string, markdown []byte) (string, error) {
	bucket, prefix := splitPath(folder)
	object := path.Join(prefix, name)
	w := g.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = ReportMIMEType
	if _, err := w.Write(markdown); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload %s: %w", object, classifyGCS(err))
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", object, classifyGCS(err))
	}
	return bucket + "/" + object, nil
}

// Rename is a server-side copy followed by a delete of the source.
func (g *GCS) Rename(ctx context.Context, id, name string) (string, error) {
	bucket, object := splitPath(id)
	target := RenamedObject(object, name)
	if target == object {
		return id, nil
	}
	b := g.client.Bucket(bucket)
	if _, err := b.Object(target).CopierFrom(b.Object(object)).Run(ctx); err != nil {
		return "", fmt.Errorf("copy %s: %w", id, classifyGCS(err))
	}
	if err := b.Object(object).Delete(ctx); err != nil {
		return "", fmt.Errorf("delete %s: %w", id, classifyGCS(err))
	}
	return bucket + "/" + target, nil
}

// ResultFolder is the result prefix under a "bucket/prefix" folder.
func ResultFolder(parent string) string {
	return strings.TrimSuffix(parent, "/") + "/" + ResultFolderName
}

// RenamedObject replaces the base name of object with name.
func RenamedObject(object, name string) string {
	dir := path.Dir(object)
	if dir == "." {
		return name
	}
	return dir + "/" + name
}

// splitPath splits "bucket/rest" at the first slash.
func splitPath(p string) (bucket, rest string) {
	p = strings.Trim(p, "/")
	bucket, rest, _ = strings.Cut(p, "/")
	return bucket, rest
}

func classifyGCS(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return wrap(ErrNotFound, err)
	}
	return classify(err)
}

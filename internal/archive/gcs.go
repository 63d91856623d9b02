// Package archive stores original document bytes in Google Cloud Storage,
// keyed by content hash.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	applog "finledger/internal/log"
)

const uploadTimeout = 2 * time.Minute

// opener returns a writer for one object. *storage.Client satisfies it
// through bucketOpener.
type opener interface {
	NewWriter(ctx context.Context, object, contentType string) io.WriteCloser
}

type bucketOpener struct {
	bucket *storage.BucketHandle
}

func (b bucketOpener) NewWriter(ctx context.Context, object, contentType string) io.WriteCloser {
	// Identical hashes mean identical bytes, so an existing object is kept.
	w := b.bucket.Object(object).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	return w
}

// GCSArchiver uploads each document once under prefix/<hash><ext>.
type GCSArchiver struct {
	client *storage.Client
	bucket string
	prefix string
	open   opener
}

// NewGCSArchiver uses Application Default Credentials.
func NewGCSArchiver(ctx context.Context, bucket, prefix string) (*GCSArchiver, error) {
	if bucket == "" {
		return nil, errors.New("archive bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	a := newArchiver(bucketOpener{bucket: client.Bucket(bucket)}, bucket, prefix)
	a.client = client
	return a, nil
}

func newArchiver(open opener, bucket, prefix string) *GCSArchiver {
	return &GCSArchiver{
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		open:   open,
	}
}

// Archive uploads data and returns its gs:// URI.
func (a *GCSArchiver) Archive(ctx context.Context, hash string, data []byte, mimeType string) (string, error) {
	if hash == "" {
		return "", errors.New("archive: empty hash")
	}
	object := a.objectName(hash, mimeType)

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := a.open.NewWriter(ctx, object, mimeType)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write %s: %w", object, err)
	}
	if err := w.Close(); err != nil && !isAlreadyStored(err) {
		return "", fmt.Errorf("finalize upload %s: %w", object, err)
	}

	uri := "gs://" + a.bucket + "/" + object
	slog.InfoContext(ctx, "Document archived",
		applog.FieldComponent, applog.ComponentArchive,
		applog.FieldDocHash, hash,
		"uri", uri,
		"bytes", len(data))
	return uri, nil
}

func (a *GCSArchiver) objectName(hash, mimeType string) string {
	name := hash + extensionFor(mimeType)
	if a.prefix == "" {
		return name
	}
	return path.Join(a.prefix, name)
}

func (a *GCSArchiver) Close() error {
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "application/pdf":
		return ".pdf"
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	}
	if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// isAlreadyStored recognizes the precondition failure of the
// does-not-exist condition.
func isAlreadyStored(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

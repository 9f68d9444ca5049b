// Package blob stores upload artifacts in three object-store buckets:
// source documents, rendered page PNGs, and extraction CSV output.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/pricelens-dev/pricelens/internal/apperr"
)

// Bucket names.
const (
	BucketPDFs   = "pdfs"
	BucketPages  = "pages"
	BucketOutput = "output"
)

// Options configures the object-store connection.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
}

// Client wraps the minio client with the bucket/key conventions used here.
type Client struct {
	mc     *minio.Client
	logger *slog.Logger
}

// NewClient connects to the object store and ensures the buckets exist.
func NewClient(ctx context.Context, opts Options, logger *slog.Logger) (*Client, error) {
	mc, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object store client: %w", err)
	}

	c := &Client{mc: mc, logger: logger.With("component", "blob")}
	for _, bucket := range []string{BucketPDFs, BucketPages, BucketOutput} {
		exists, err := mc.BucketExists(ctx, bucket)
		if err != nil {
			return nil, fmt.Errorf("checking bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := mc.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
				return nil, fmt.Errorf("creating bucket %s: %w", bucket, err)
			}
			c.logger.Info("created bucket", "bucket", bucket)
		}
	}
	return c, nil
}

// OriginalKey returns the object key of an upload's source document.
// ext is the lowercase extension without dot (pdf, png, jpg).
func OriginalKey(uploadID, ext string) string {
	return fmt.Sprintf("%s/original.%s", uploadID, ext)
}

// PageKey returns the object key of a rendered page image.
func PageKey(uploadID string, pageNum int) string {
	return fmt.Sprintf("%s/page_%03d.png", uploadID, pageNum)
}

// CSVKey returns the object key of an upload's extraction output.
func CSVKey(uploadID string) string {
	return uploadID + ".csv"
}

func (c *Client) put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	_, err := c.mc.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return apperr.Wrap(apperr.Upstream, err, "storing %s/%s", bucket, key)
	}
	return nil
}

func (c *Client) get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := c.mc.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, err, "fetching %s/%s", bucket, key)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, apperr.New(apperr.NotFound, "object %s/%s not found", bucket, key)
		}
		return nil, apperr.Wrap(apperr.Upstream, err, "reading %s/%s", bucket, key)
	}
	return data, nil
}

func (c *Client) exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := c.mc.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, apperr.Wrap(apperr.Upstream, err, "checking %s/%s", bucket, key)
	}
	return true, nil
}

// PutOriginal stores an upload's source document. Returns the object key.
func (c *Client) PutOriginal(ctx context.Context, uploadID, ext string, data []byte) (string, error) {
	key := OriginalKey(uploadID, ext)
	ct := mime.TypeByExtension("." + ext)
	if ct == "" {
		ct = "application/octet-stream"
	}
	return key, c.put(ctx, BucketPDFs, key, data, ct)
}

// GetOriginal retrieves a source document by its stored key.
func (c *Client) GetOriginal(ctx context.Context, key string) ([]byte, error) {
	return c.get(ctx, BucketPDFs, key)
}

// PutPageImage stores a rendered page PNG. Returns the object key.
func (c *Client) PutPageImage(ctx context.Context, uploadID string, pageNum int, data []byte) (string, error) {
	key := PageKey(uploadID, pageNum)
	return key, c.put(ctx, BucketPages, key, data, "image/png")
}

// GetPageImage retrieves a rendered page PNG.
func (c *Client) GetPageImage(ctx context.Context, uploadID string, pageNum int) ([]byte, error) {
	return c.get(ctx, BucketPages, PageKey(uploadID, pageNum))
}

// PageImageExists reports whether a page has been rendered already.
func (c *Client) PageImageExists(ctx context.Context, uploadID string, pageNum int) (bool, error) {
	return c.exists(ctx, BucketPages, PageKey(uploadID, pageNum))
}

// ListPageImages returns the rendered page filenames of an upload, sorted.
func (c *Client) ListPageImages(ctx context.Context, uploadID string) ([]string, error) {
	var names []string
	for obj := range c.mc.ListObjects(ctx, BucketPages, minio.ListObjectsOptions{Prefix: uploadID + "/"}) {
		if obj.Err != nil {
			return nil, apperr.Wrap(apperr.Upstream, obj.Err, "listing pages of %s", uploadID)
		}
		if strings.HasSuffix(obj.Key, ".png") {
			parts := strings.Split(obj.Key, "/")
			names = append(names, parts[len(parts)-1])
		}
	}
	sort.Strings(names)
	return names, nil
}

// PutCSV stores an upload's extraction output. Returns the object key.
func (c *Client) PutCSV(ctx context.Context, uploadID string, data []byte) (string, error) {
	key := CSVKey(uploadID)
	return key, c.put(ctx, BucketOutput, key, data, "text/csv")
}

// GetCSV retrieves an upload's extraction output.
func (c *Client) GetCSV(ctx context.Context, uploadID string) ([]byte, error) {
	return c.get(ctx, BucketOutput, CSVKey(uploadID))
}

// CSVExists reports whether an extraction output has been stored.
func (c *Client) CSVExists(ctx context.Context, uploadID string) (bool, error) {
	return c.exists(ctx, BucketOutput, CSVKey(uploadID))
}

// DeleteCSV removes an upload's extraction output if present.
func (c *Client) DeleteCSV(ctx context.Context, uploadID string) error {
	err := c.mc.RemoveObject(ctx, BucketOutput, CSVKey(uploadID), minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return apperr.Wrap(apperr.Upstream, err, "deleting csv of %s", uploadID)
	}
	return nil
}

// DeleteUploadFiles removes everything stored for an upload: the source
// document, all page images, and any extraction output. Missing objects are
// not errors.
func (c *Client) DeleteUploadFiles(ctx context.Context, uploadID string) error {
	for obj := range c.mc.ListObjects(ctx, BucketPDFs, minio.ListObjectsOptions{Prefix: uploadID + "/"}) {
		if obj.Err != nil {
			return apperr.Wrap(apperr.Upstream, obj.Err, "listing originals of %s", uploadID)
		}
		if err := c.mc.RemoveObject(ctx, BucketPDFs, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			c.logger.Warn("failed to delete original", "key", obj.Key, "error", err)
		}
	}
	for obj := range c.mc.ListObjects(ctx, BucketPages, minio.ListObjectsOptions{Prefix: uploadID + "/"}) {
		if obj.Err != nil {
			return apperr.Wrap(apperr.Upstream, obj.Err, "listing pages of %s", uploadID)
		}
		if err := c.mc.RemoveObject(ctx, BucketPages, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			c.logger.Warn("failed to delete page image", "key", obj.Key, "error", err)
		}
	}
	if err := c.DeleteCSV(ctx, uploadID); err != nil {
		c.logger.Warn("failed to delete csv", "upload_id", uploadID, "error", err)
	}
	return nil
}

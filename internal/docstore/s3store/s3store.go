// Package s3store is a docstore backend on an S3-compatible bucket.
//
// Object stores have no real folders, so a folder is a key prefix holding a
// zero-byte marker object named ".folder". The FolderRef is the prefix
// relative to the configured bucket prefix, without a trailing slash.
package s3store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/pdcadash/pdca/internal/docstore"
)

// MarkerName is the object that makes a prefix a folder.
const MarkerName = ".folder"

func init() {
	docstore.Register("s3", func(opts docstore.Options) (docstore.Store, error) {
		return New(opts)
	})
}

// Store is an S3-backed docstore.Store.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// New connects to the endpoint in opts. The bucket must already exist; it
// is checked when opts.Timeout is set.
func New(opts docstore.Options) (*Store, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("s3store: endpoint is required")
	}
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3store: bucket is required")
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3store: failed to create client: %w", err)
	}

	if opts.Timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
		defer cancel()
		ok, err := client.BucketExists(ctx, opts.Bucket)
		if err != nil {
			return nil, fmt.Errorf("s3store: failed to check bucket %s: %w", opts.Bucket, err)
		}
		if !ok {
			return nil, fmt.Errorf("s3store: bucket %s does not exist", opts.Bucket)
		}
	}
	return &Store{
		client: client,
		bucket: opts.Bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
	}, nil
}

// key joins the bucket prefix, the folder ref and name into an object key.
func (s *Store) key(folder docstore.FolderRef, name string) string {
	parts := make([]string, 0, 3)
	if s.prefix != "" {
		parts = append(parts, s.prefix)
	}
	if f := strings.Trim(string(folder), "/"); f != "" {
		parts = append(parts, f)
	}
	if name != "" {
		parts = append(parts, name)
	}
	return strings.Join(parts, "/")
}

// listPrefix is the prefix under which the children of folder are listed.
func (s *Store) listPrefix(folder docstore.FolderRef) string {
	k := s.key(folder, "")
	if k == "" {
		return ""
	}
	return k + "/"
}

func child(parent docstore.FolderRef, name string) docstore.FolderRef {
	if parent == docstore.Root {
		return docstore.FolderRef(name)
	}
	return docstore.FolderRef(path.Join(string(parent), name))
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (s *Store) hasFolder(ctx context.Context, folder docstore.FolderRef) (bool, error) {
	if folder == docstore.Root {
		return true, nil
	}
	_, err := s.client.StatObject(ctx, s.bucket, s.key(folder, MarkerName), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) CreateOrGetFolder(ctx context.Context, name string, parent docstore.FolderRef) (docstore.FolderRef, error) {
	if err := docstore.ValidateName(name); err != nil {
		return "", err
	}
	ok, err := s.hasFolder(ctx, parent)
	if err != nil {
		return "", docstore.Fail(docstore.OpCreateFolder, parent, name, err)
	}
	if !ok {
		return "", fmt.Errorf("parent folder %q: %w", parent, docstore.ErrNotFound)
	}

	ref := child(parent, name)
	exists, err := s.hasFolder(ctx, ref)
	if err != nil {
		return "", docstore.Fail(docstore.OpCreateFolder, parent, name, err)
	}
	if exists {
		return ref, nil
	}

	// Writing the marker twice is harmless, so racing creators converge.
	_, err = s.client.PutObject(ctx, s.bucket, s.key(ref, MarkerName),
		bytes.NewReader(nil), 0, minio.PutObjectOptions{ContentType: "application/x-directory"})
	if err != nil {
		return "", docstore.Fail(docstore.OpCreateFolder, parent, name, err)
	}
	return ref, nil
}

func (s *Store) FindFolder(ctx context.Context, name string, parent docstore.FolderRef) (docstore.FolderRef, error) {
	if err := docstore.ValidateName(name); err != nil {
		return "", err
	}
	ref := child(parent, name)
	ok, err := s.hasFolder(ctx, ref)
	if err != nil {
		return "", docstore.Fail(docstore.OpFindFolder, parent, name, err)
	}
	if !ok {
		return "", fmt.Errorf("folder %q: %w", name, docstore.ErrNotFound)
	}
	return ref, nil
}

func (s *Store) ReadFile(ctx context.Context, name string, folder docstore.FolderRef) ([]byte, error) {
	if err := docstore.ValidateName(name); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(folder, name), minio.GetObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%s: %w", name, docstore.ErrNotFound)
		}
		return nil, docstore.Fail(docstore.OpRead, folder, name, err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key surfaces on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%s: %w", name, docstore.ErrNotFound)
		}
		return nil, docstore.Fail(docstore.OpRead, folder, name, err)
	}
	return data, nil
}

func (s *Store) WriteFile(ctx context.Context, name string, folder docstore.FolderRef, data []byte) error {
	if err := docstore.ValidateName(name); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.bucket, s.key(folder, name),
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return docstore.Fail(docstore.OpWrite, folder, name, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, folder docstore.FolderRef) ([]docstore.Entry, error) {
	prefix := s.listPrefix(folder)

	var entries []docstore.Entry
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, docstore.Fail(docstore.OpList, folder, "", obj.Err)
		}
		rel := strings.TrimPrefix(obj.Key, prefix)
		if strings.HasSuffix(rel, "/") {
			name := strings.TrimSuffix(rel, "/")
			entries = append(entries, docstore.Entry{Ref: child(folder, name), Name: name, IsFolder: true})
			continue
		}
		if rel == "" || rel == MarkerName {
			continue
		}
		entries = append(entries, docstore.Entry{
			Name:       rel,
			Size:       obj.Size,
			ModifiedAt: obj.LastModified,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"google.golang.org/api/option"
)

const contentType = "application/x-ndjson"

// Credentials holds the secrets for cloud archive stores.
type Credentials struct {
	S3KeyID          string
	S3Secret         string
	S3Endpoint       string // host of an S3-compatible service; empty for AWS
	S3Region         string
	GCSKeyFile       string
	AzureAccountName string
	AzureAccountKey  string
}

// Open creates an Archiver for the destination named by uri.
func Open(ctx context.Context, uri string, creds Credentials) (*Archiver, error) {
	loc, err := ParseLocation(uri)
	if err != nil {
		return nil, err
	}

	var store Store
	switch loc.Scheme {
	case "file":
		return New(FileStore{Dir: loc.Prefix}, ""), nil
	case "s3":
		store = NewS3Store(loc.Bucket, creds)
	case "gs":
		store, err = NewGCSStore(ctx, loc.Bucket, creds)
	case "az":
		store, err = NewAzureStore(loc, creds)
	}
	if err != nil {
		return nil, err
	}
	return New(store, loc.Prefix), nil
}

// FileStore writes archive objects below a local directory.
type FileStore struct {
	Dir string
}

// Put implements Store.
func (s FileStore) Put(_ context.Context, key string, body []byte) error {
	p := filepath.Join(s.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}
	return os.WriteFile(p, body, 0o600)
}

// S3Store writes archive objects to an S3 bucket. A custom endpoint switches
// to path-style addressing for S3-compatible services.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store creates an S3Store.
func NewS3Store(bucket string, creds Credentials) *S3Store {
	region := creds.S3Region
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{
		Region: region,
		Credentials: credentials.NewStaticCredentialsProvider(
			creds.S3KeyID, creds.S3Secret, "",
		),
	}
	if creds.S3Endpoint != "" {
		opts.BaseEndpoint = aws.String("https://" + creds.S3Endpoint)
		opts.UsePathStyle = true
	}
	return &S3Store{client: s3.New(opts), bucket: bucket}
}

// Put implements Store.
func (s *S3Store) Put(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// GCSStore writes archive objects to a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore creates a GCSStore. Without a key file the client uses
// application default credentials.
func NewGCSStore(ctx context.Context, bucket string, creds Credentials) (*GCSStore, error) {
	var opts []option.ClientOption
	if creds.GCSKeyFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, creds.GCSKeyFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

// Put implements Store.
func (s *GCSStore) Put(ctx context.Context, key string, body []byte) error {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return fmt.Errorf("write gs://%s/%s: %w", s.bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close gs://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// AzureStore writes archive objects to an Azure Blob Storage container.
type AzureStore struct {
	client    *azblob.Client
	container string
}

// NewAzureStore creates an AzureStore using shared-key authentication. The
// account named in the location wins over the configured one.
func NewAzureStore(loc Location, creds Credentials) (*AzureStore, error) {
	account := loc.Account
	if account == "" {
		account = creds.AzureAccountName
	}
	if account == "" || creds.AzureAccountKey == "" {
		return nil, fmt.Errorf("azure archive requires an account name and key")
	}

	cred, err := azblob.NewSharedKeyCredential(account, creds.AzureAccountKey)
	if err != nil {
		return nil, fmt.Errorf("create shared key credential: %w", err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net", account)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}
	return &AzureStore{client: client, container: loc.Bucket}, nil
}

// Put implements Store.
func (s *AzureStore) Put(ctx context.Context, key string, body []byte) error {
	_, err := s.client.UploadBuffer(ctx, s.container, key, body, nil)
	if err != nil {
		return fmt.Errorf("upload az://%s/%s: %w", s.container, key, err)
	}
	return nil
}

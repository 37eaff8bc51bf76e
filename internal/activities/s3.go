package activities

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/flowforge/engine/internal/execctx"
)

// S3Activity implements the `s3` node type.
//
// config fields:
//
//	bucket:        S3 bucket name (required)
//	region:        AWS region, e.g. "us-east-1" (required)
//	auth:          map — access_key_id (string), secret_access_key (string), session_token (string, optional)
//	               If auth is omitted the default AWS credential chain is used.
//	folder:        key prefix / "folder" inside the bucket
//	method:        "get" | "put" (required)
//	regex_filter:  regex to filter object keys during get
//	overwrite:     bool — overwrite existing destination objects (put only, default true)
//	local_folder:  local directory used as source (put) or destination (get)
//	files:         []interface{} of filenames to upload (put only)
type S3Activity struct{}

// Name returns the DSL type identifier for this activity.
func (a *S3Activity) Name() string { return "s3" }

// Execute runs the S3 get or put operation.
func (a *S3Activity) Execute(input map[string]interface{}, cfg map[string]interface{}, ctx *execctx.Context) (map[string]interface{}, error) {
	bucket, ok := cfg["bucket"].(string)
	if !ok || bucket == "" {
		return nil, fmt.Errorf("s3 activity: missing required config field 'bucket'")
	}
	region, ok := cfg["region"].(string)
	if !ok || region == "" {
		return nil, fmt.Errorf("s3 activity: missing required config field 'region'")
	}

	tp, err := parseTransferParams(cfg)
	if err != nil {
		return nil, fmt.Errorf("s3 activity: %w", err)
	}

	goCtx := context.Background()
	client, err := buildS3Client(goCtx, region, cfg)
	if err != nil {
		return nil, fmt.Errorf("s3 activity: failed to build client: %w", err)
	}

	out, err := runTransfer(&s3FS{ctx: goCtx, client: client, bucket: bucket}, tp)
	if err != nil {
		return nil, fmt.Errorf("s3 activity: %w", err)
	}
	return out, nil
}

// buildS3Client creates an AWS S3 client for the given region. Credentials
// are read from cfg["auth"] (nested map) when present, or from flat
// top-level keys (access_key_id, secret_access_key, session_token) injected
// by the secret resolver. If neither is present the default AWS credential
// chain (env vars, ~/.aws, IAM role, …) is used.
func buildS3Client(ctx context.Context, region string, cfg map[string]interface{}) (*s3.Client, error) {
	getCredential := func(key string) string {
		if authMap, ok := cfg["auth"].(map[string]interface{}); ok {
			if v, ok := authMap[key].(string); ok {
				return v
			}
		}
		v, _ := cfg[key].(string)
		return v
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	accessKey := getCredential("access_key_id")
	secretKey := getCredential("secret_access_key")
	if accessKey != "" && secretKey != "" {
		sessionToken := getCredential("session_token")
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, sessionToken),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return s3.NewFromConfig(awsCfg), nil
}

// s3FS adapts an S3 bucket+prefix pair to the shared remoteFS transfer
// interface. S3 has no real directories, so MkdirAll is a no-op: object
// keys are created implicitly on PutObject.
type s3FS struct {
	ctx    context.Context
	client *s3.Client
	bucket string
}

func (f *s3FS) List(folder string) ([]remoteEntry, error) {
	var entries []remoteEntry
	paginator := s3.NewListObjectsV2Paginator(f.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(f.bucket),
		Prefix: aws.String(folder),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(f.ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue // S3 "directory marker" object, not a real file
			}
			entries = append(entries, remoteEntry{Name: filepath.Base(key)})
		}
	}
	return entries, nil
}

func (f *s3FS) Open(key string) (io.ReadCloser, error) {
	resp, err := f.client.GetObject(f.ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (f *s3FS) Create(key string) (io.WriteCloser, error) {
	return &s3ObjectWriter{ctx: f.ctx, client: f.client, bucket: f.bucket, key: key}, nil
}

func (f *s3FS) Exists(key string) bool {
	_, err := f.client.HeadObject(f.ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
	})
	return err == nil
}

func (f *s3FS) MkdirAll(string) error { return nil }

func (f *s3FS) Join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return strings.TrimRight(prefix, "/") + "/" + name
}

// s3ObjectWriter buffers a PutObject body so s3FS.Create can satisfy
// io.WriteCloser: the AWS SDK's PutObject takes the whole body up front,
// so the bytes written before Close are staged in memory and flushed on
// Close, matching the shared transfer walk's "open, copy, close" pattern.
type s3ObjectWriter struct {
	ctx    context.Context
	client *s3.Client
	bucket string
	key    string
	buf    []byte
}

func (w *s3ObjectWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *s3ObjectWriter) Close() error {
	_, err := w.client.PutObject(w.ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(w.key),
		Body:   bytes.NewReader(w.buf),
	})
	return err
}

// Package s3 provides a core.ArtifactStore backed by Amazon S3 (or any
// S3-compatible object store).
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gabriel-vasile/mimetype"

	"github.com/hupe1980/researchmesh/artifact"
)

// API is the subset of the S3 client used by Store.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Options configure a Store.
type Options struct {
	Bucket  string
	Prefix  string
	Timeout time.Duration // per operation, default 30s
}

// Store keeps artifacts under s3://<bucket>/<prefix>/<runID>/<name>.
type Store struct {
	api  API
	opts Options
}

// NewStore creates a Store on top of an S3 client.
func NewStore(api API, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{Timeout: 30 * time.Second}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Bucket == "" {
		return nil, errors.New("s3 artifact store: bucket is required")
	}
	opts.Prefix = strings.Trim(opts.Prefix, "/")
	return &Store{api: api, opts: opts}, nil
}

// ClientOptions configure NewClient.
type ClientOptions struct {
	Region       string
	Endpoint     string // custom endpoint for S3-compatible stores
	UsePathStyle bool
}

// NewClient builds an S3 client using static credentials from the standard
// AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY / AWS_SESSION_TOKEN variables.
func NewClient(opts ClientOptions) *s3.Client {
	creds := aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		c := aws.Credentials{
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
			Source:          "environment",
		}
		if c.AccessKeyID == "" || c.SecretAccessKey == "" {
			return aws.Credentials{}, errors.New("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set")
		}
		return c, nil
	})

	s3Opts := s3.Options{
		Region:       opts.Region,
		Credentials:  aws.NewCredentialsCache(creds),
		UsePathStyle: opts.UsePathStyle,
	}
	if opts.Endpoint != "" {
		s3Opts.BaseEndpoint = aws.String(opts.Endpoint)
	}
	return s3.New(s3Opts)
}

func (s *Store) key(runID, name string) (string, error) {
	runID, err := artifact.CleanName(runID)
	if err != nil {
		return "", err
	}
	if name, err = artifact.CleanName(name); err != nil {
		return "", err
	}
	return path.Join(s.opts.Prefix, runID, name), nil
}

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opts.Timeout)
}

// Save uploads the artifact and returns its s3:// URI. The content type is
// sniffed from the data.
func (s *Store) Save(runID, name string, data []byte) (string, error) {
	key, err := s.key(runID, name)
	if err != nil {
		return "", err
	}
	ctx, cancel := s.ctx()
	defer cancel()

	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.opts.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mimetype.Detect(data).String()),
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.opts.Bucket, key), nil
}

// Get downloads the artifact or returns artifact.ErrNotFound.
func (s *Store) Get(runID, name string) ([]byte, error) {
	key, err := s.key(runID, name)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.ctx()
	defer cancel()

	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, artifact.ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}

// List returns the sorted artifact names of a run.
func (s *Store) List(runID string) ([]string, error) {
	runID, err := artifact.CleanName(runID)
	if err != nil {
		return nil, err
	}
	prefix := path.Join(s.opts.Prefix, runID) + "/"
	ctx, cancel := s.ctx()
	defer cancel()

	names := []string{}
	var token *string
	for {
		out, err := s.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.opts.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			names = append(names, strings.TrimPrefix(aws.ToString(obj.Key), prefix))
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes the artifact. S3 deletes are idempotent, so a missing
// object is not reported.
func (s *Store) Delete(runID, name string) error {
	key, err := s.key(runID, name)
	if err != nil {
		return err
	}
	ctx, cancel := s.ctx()
	defer cancel()

	if _, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

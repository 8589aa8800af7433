package cas

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/ghalamif/ColdAnchor/internal/domain"
	"github.com/ghalamif/ColdAnchor/internal/ports"
)

type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// S3Store keeps artifacts under <prefix><sha256>, so the key is the address.
type S3Store struct {
	svc    s3iface.S3API
	bucket string
	prefix string
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: aws session: %w", domain.ErrContentStore, err)
	}
	return NewS3StoreWithClient(s3.New(sess), cfg.Bucket, cfg.Prefix), nil
}

func NewS3StoreWithClient(svc s3iface.S3API, bucket, prefix string) *S3Store {
	return &S3Store{svc: svc, bucket: bucket, prefix: prefix}
}

func (s *S3Store) Name() string { return "s3" }

func (s *S3Store) Put(ctx context.Context, name string, r io.Reader) (string, error) {
	b, cid, err := readAndAddress(r)
	if err != nil {
		return "", fmt.Errorf("%w: read: %w", domain.ErrContentStore, err)
	}
	_, err = s.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.prefix + cid),
		Body:        bytes.NewReader(b),
		ContentType: aws.String("application/json"),
		Metadata:    map[string]*string{"Artifact-Name": aws.String(name)},
	})
	if err != nil {
		return "", fmt.Errorf("%w: s3 put %s: %w", domain.ErrContentStore, cid, err)
	}
	return cid, nil
}

func (s *S3Store) Get(ctx context.Context, cid string) ([]byte, error) {
	out, err := s.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + cid),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, fmt.Errorf("content %s: %w", cid, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: s3 get %s: %w", domain.ErrContentStore, cid, err)
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: s3 read %s: %w", domain.ErrContentStore, cid, err)
	}
	return b, nil
}

var _ ports.ContentStore = (*S3Store)(nil)

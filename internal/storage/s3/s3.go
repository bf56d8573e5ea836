// Package s3 implements the S3-compatible blob backend (AWS S3, MinIO and
// similar services through a custom endpoint). Credentials come from the AWS
// default chain, static keys, OIDC web identity, or AssumeRole.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	appconfig "github.com/uilm/uilm-service/internal/config"
	"github.com/uilm/uilm-service/internal/storage"
	"github.com/uilm/uilm-service/pkg/checksum"
)

func init() {
	storage.Register("s3", func(cfg *appconfig.Config) (storage.Storage, error) {
		return New(&cfg.Storage.S3)
	})
}

// S3Storage stores objects in one bucket
type S3Storage struct {
	client *s3.Client
	bucket string
}

// New creates the S3 backend for one bucket.
func New(cfg *appconfig.S3StorageConfig) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket name is required")
	}
	if cfg.Region == "" {
		return nil, errors.New("s3 region is required")
	}
	method, err := resolveAuthMethod(cfg)
	if err != nil {
		return nil, err
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if method == "static" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if provider := roleCredentials(awsCfg, cfg, method); provider != nil {
		awsCfg.Credentials = aws.NewCredentialsCache(provider)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Storage{client: client, bucket: cfg.Bucket}, nil
}

// resolveAuthMethod picks the credential source and checks its settings:
//
//	default      AWS default chain (env, shared config, IRSA, IMDS)
//	static       AccessKeyID + SecretAccessKey
//	oidc         WebIdentityTokenFile exchanged for RoleARN
//	assume_role  RoleARN assumed from the default chain
//
// An empty AuthMethod means static when both keys are set, default otherwise.
func resolveAuthMethod(cfg *appconfig.S3StorageConfig) (string, error) {
	method := cfg.AuthMethod
	if method == "" {
		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			return "static", nil
		}
		return "default", nil
	}
	switch method {
	case "default":
	case "static":
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return "", errors.New("access_key_id and secret_access_key are required for static auth")
		}
	case "oidc":
		if cfg.WebIdentityTokenFile == "" {
			return "", errors.New("web_identity_token_file is required for oidc auth")
		}
		fallthrough
	case "assume_role":
		if cfg.RoleARN == "" {
			return "", fmt.Errorf("role_arn is required for %s auth", method)
		}
	default:
		return "", fmt.Errorf("unsupported auth_method %q (want default, static, oidc or assume_role)", method)
	}
	return method, nil
}

// roleCredentials returns the STS provider for role based methods, nil otherwise.
func roleCredentials(awsCfg aws.Config, cfg *appconfig.S3StorageConfig, method string) aws.CredentialsProvider {
	stsClient := sts.NewFromConfig(awsCfg)
	switch method {
	case "oidc":
		return stscreds.NewWebIdentityRoleProvider(stsClient, cfg.RoleARN,
			stscreds.IdentityTokenFile(cfg.WebIdentityTokenFile),
			func(o *stscreds.WebIdentityRoleOptions) {
				if cfg.RoleSessionName != "" {
					o.RoleSessionName = cfg.RoleSessionName
				}
			})
	case "assume_role":
		return stscreds.NewAssumeRoleProvider(stsClient, cfg.RoleARN, func(o *stscreds.AssumeRoleOptions) {
			if cfg.RoleSessionName != "" {
				o.RoleSessionName = cfg.RoleSessionName
			}
			if cfg.ExternalID != "" {
				o.ExternalID = aws.String(cfg.ExternalID)
			}
		})
	}
	return nil
}

// Backend implements storage.Storage
func (s *S3Storage) Backend() string { return "s3" }

// Upload buffers the object, which is small for UILM files and exports, and
// stores its SHA256 as object metadata
func (s *S3Storage) Upload(ctx context.Context, key string, reader io.Reader, contentType string) (*storage.UploadResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	sum := checksum.SumBytes(data)

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      map[string]string{"sha256": sum},
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	return &storage.UploadResult{Key: key, Size: int64(len(data)), Checksum: sum}, nil
}

// Download opens the object body
func (s *S3Storage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	return out.Body, nil
}

// Delete removes the object; S3 treats a missing key as success
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// Exists issues a HEAD request for the object
func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object: %w", err)
	}
	return true, nil
}

// utils/r2.go
package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"guild-progression-system/config"
)

const MaxEmblemBytes = 2 << 20

var emblemTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// ErrInvalidImage marks uploads rejected before they reach the bucket.
var ErrInvalidImage = errors.New("invalid image")

// ObjectPutter is the slice of the S3 API the store needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// R2Store writes guild emblems to a Cloudflare R2 bucket and hands back
// their public CDN URL.
type R2Store struct {
	Client     ObjectPutter
	Bucket     string
	CDNBaseURL string
}

func NewR2Store(ctx context.Context, cfg config.R2Config) (*R2Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	cdn := strings.TrimRight(cfg.CDNBaseURL, "/")
	if cdn == "" {
		cdn = endpoint + "/" + cfg.Bucket
	}
	return &R2Store{Client: client, Bucket: cfg.Bucket, CDNBaseURL: cdn}, nil
}

// UploadEmblem validates an image upload and stores it under
// emblems/<guildID>/<name><ext>. It returns the public URL.
func (s *R2Store) UploadEmblem(ctx context.Context, fileHeader *multipart.FileHeader, guildID, name string) (string, error) {
	if fileHeader.Size > MaxEmblemBytes {
		return "", fmt.Errorf("%w: emblem exceeds %d bytes", ErrInvalidImage, MaxEmblemBytes)
	}

	file, err := fileHeader.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, io.LimitReader(file, MaxEmblemBytes+1)); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	if buf.Len() > MaxEmblemBytes {
		return "", fmt.Errorf("%w: emblem exceeds %d bytes", ErrInvalidImage, MaxEmblemBytes)
	}

	contentType := http.DetectContentType(buf.Bytes())
	ext, ok := emblemTypes[contentType]
	if !ok {
		return "", fmt.Errorf("%w: unsupported content type %s", ErrInvalidImage, contentType)
	}

	key := path.Join("emblems", guildID, name+ext)
	_, err = s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to R2: %w", err)
	}
	return fmt.Sprintf("%s/%s", s.CDNBaseURL, key), nil
}

package media

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	appconfig "github.com/amsuru18/FolkTrade/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader 把商品图片写入 S3 兼容的媒体存储。
type Uploader struct {
	client        *s3.Client
	bucket        string
	publicBaseURL string
	logger        *slog.Logger
}

// NewUploader 创建媒体上传器。
//
// Endpoint 非空时指向自建 S3 兼容服务（如 MinIO），否则使用 AWS 默认端点。
func NewUploader(ctx context.Context, cfg *appconfig.MediaConfig, logger *slog.Logger) (*Uploader, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	baseURL := strings.TrimSuffix(cfg.PublicBaseURL, "/")
	if baseURL == "" {
		if cfg.Endpoint != "" {
			baseURL = strings.TrimSuffix(cfg.Endpoint, "/") + "/" + cfg.Bucket
		} else {
			baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}

	return &Uploader{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: baseURL,
		logger:        logger,
	}, nil
}

// Upload 写入一个对象并返回对外可访问的 URL。
func (u *Uploader) Upload(ctx context.Context, filename string, contentType string, r io.Reader) (string, error) {
	key := randomKey(filename)
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}

	url := u.publicBaseURL + "/" + key
	u.logger.Info("media uploaded", slog.String("key", key))
	return url, nil
}

// randomKey 生成按日期分目录的随机对象键，保留原始扩展名。
func randomKey(filename string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		buf = []byte(fmt.Sprintf("%d", time.Now().UnixNano()))
	}
	d := time.Now()
	ext := strings.ToLower(path.Ext(filename))
	return fmt.Sprintf("products/%d/%02d/%02d/%s%s", d.Year(), d.Month(), d.Day(), hex.EncodeToString(buf), ext)
}

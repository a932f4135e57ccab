// internal/sender/s3_uploader.go
package sender

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"device-analytics/internal/endpoint"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfgLib "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Uploader 는 s3://bucket/prefix endpoint 로 batch 를 PutObject 한다.
//   - bucket = URL host, prefix = URL path
//   - key 는 batch ID 로부터 결정되므로 재전송해도 같은 object 를 덮어쓴다
//   - SDK 자체 재시도는 끄고 Sender 의 재시도 정책만 쓴다
type S3Uploader struct {
	client *s3.Client
}

// NewS3Uploader 는 AWS 기본 자격증명 체인과 region 으로 client 를 만든다.
func NewS3Uploader(ctx context.Context, region string) (*S3Uploader, error) {
	awsCfg, err := awsCfgLib.LoadDefaultConfig(ctx, awsCfgLib.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("s3 uploader: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 1
	})
	return NewS3UploaderWithClient(client), nil
}

// NewS3UploaderWithClient 는 이미 구성된 client 를 쓴다 (테스트, 커스텀 endpoint).
func NewS3UploaderWithClient(client *s3.Client) *S3Uploader {
	return &S3Uploader{client: client}
}

func (u *S3Uploader) Upload(ctx context.Context, ep endpoint.Endpoint, p Payload) error {
	bucket := ep.URL.Host
	key := BuildS3Key(ep.URL.Path, p.BatchID, p.CreatedAt)

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(p.Body),
		ContentLength:   aws.Int64(int64(len(p.Body))),
		ContentType:     aws.String(contentType),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s/%s: %w", bucket, key, err)
	}
	return nil
}

// BuildS3Key
// ------------------------------------------------------------
// S3 폴더 구조(Partitioning):
//
//	<prefix>/dt=<YYYY-MM-DD>/hr=<HH>/<batchID>.jsonl.gz
//
// dt / hr 은 batch 가 만들어진 시각(UTC) 기준.
// 전송 시각이 아니라서 같은 batch 는 언제 보내도 같은 key 가 된다.
func BuildS3Key(prefix, batchID string, created time.Time) string {
	created = created.UTC()
	key := fmt.Sprintf("dt=%s/hr=%s/%s.jsonl.gz",
		created.Format("2006-01-02"), created.Format("15"), batchID)

	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

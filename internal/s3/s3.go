package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/models"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Client struct {
	client       *minio.Client
	alertsBucket string
}

func NewMinioClient(endpoint, accessKey, secretKey, alertsBucket string) (*Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &Client{client: client, alertsBucket: alertsBucket}, nil
}

// ParseSource splits a frames location into bucket and folder. Both
// "http://host/bucket/folder" and "bucket/folder" are accepted.
func ParseSource(source string) (bucket, folder string, err error) {
	path := source
	if strings.Contains(source, "://") {
		u, err := url.Parse(source)
		if err != nil {
			return "", "", err
		}
		path = u.Path
	}

	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid frames source %q", source)
	}
	return parts[0], parts[1], nil
}

// ListFrameKeys returns the keys of all objects under folder, sorted, skipping
// keys already seen (after).
func (c *Client) ListFrameKeys(ctx context.Context, bucket, folder, after string) ([]string, error) {
	objectCh := c.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:     strings.TrimSuffix(folder, "/") + "/",
		Recursive:  true,
		StartAfter: after,
	})

	var keys []string
	for object := range objectCh {
		if object.Err != nil {
			return nil, object.Err
		}

		// Пропускаем саму папку (если она есть в списке)
		if strings.HasSuffix(object.Key, "/") {
			continue
		}
		keys = append(keys, object.Key)
	}

	sort.Strings(keys)
	return keys, nil
}

// GetFrame downloads a single frame object.
func (c *Client) GetFrame(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := c.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	// Читаем содержимое файла
	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, obj); err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", bucket, key, err)
	}

	return buf.Bytes(), nil
}

// SaveAlertSnapshot сохраняет кадр тревоги и его детекции в бакет alerts
// в папку с именем сессии
func (c *Client) SaveAlertSnapshot(ctx context.Context, event models.AlertEvent) error {
	prefix := fmt.Sprintf("%s/%s", event.SessionID, event.ID)

	if _, err := c.client.PutObject(
		ctx,
		c.alertsBucket,
		prefix+".jpg",
		bytes.NewReader(event.Snapshot),
		int64(len(event.Snapshot)),
		minio.PutObjectOptions{ContentType: "image/jpeg"},
	); err != nil {
		return fmt.Errorf("failed to save snapshot to S3: %w", err)
	}

	jsonData, err := json.Marshal(event.Detections)
	if err != nil {
		return fmt.Errorf("failed to marshal detections: %w", err)
	}

	if _, err := c.client.PutObject(
		ctx,
		c.alertsBucket,
		prefix+".json",
		bytes.NewReader(jsonData),
		int64(len(jsonData)),
		minio.PutObjectOptions{ContentType: "application/json"},
	); err != nil {
		return fmt.Errorf("failed to save detections to S3: %w", err)
	}

	return nil
}

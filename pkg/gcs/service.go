package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

type GCSClient struct {
	client     *storage.Client
	bucketName string
}

func NewGCSClient(ctx context.Context, bucketName string) (*GCSClient, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs client: %v", err)
	}

	return &GCSClient{
		client:     client,
		bucketName: bucketName,
	}, nil
}

// Upload writes content to objectPath and returns its gs:// URI.
func (g *GCSClient) Upload(ctx context.Context, objectPath, contentType string, content io.Reader) (string, error) {
	writer := g.client.Bucket(g.bucketName).Object(objectPath).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := io.Copy(writer, content); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("failed to copy content: %v", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer: %v", err)
	}

	return ObjectURI(g.bucketName, objectPath), nil
}

func (g *GCSClient) Delete(ctx context.Context, gcsURI string) error {
	bucketName, objectPath, err := ParseURI(gcsURI)
	if err != nil {
		return err
	}

	if err := g.client.Bucket(bucketName).Object(objectPath).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete object: %v", err)
	}
	return nil
}

func (g *GCSClient) GetPresignedURL(ctx context.Context, gcsURI string, expiresAt time.Time) (string, error) {
	bucketName, objectPath, err := ParseURI(gcsURI)
	if err != nil {
		return "", err
	}

	url, err := g.client.Bucket(bucketName).SignedURL(objectPath, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: expiresAt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get presigned url: %v", err)
	}
	return url, nil
}

func (g *GCSClient) Close() error {
	return g.client.Close()
}

func ObjectURI(bucket, objectPath string) string {
	return "gs://" + bucket + "/" + objectPath
}

// ParseURI splits gs://bucket/path into its parts.
func ParseURI(gcsURI string) (bucket, objectPath string, err error) {
	rest, ok := strings.CutPrefix(gcsURI, "gs://")
	if !ok {
		return "", "", fmt.Errorf("invalid GCS URL format: %s", gcsURI)
	}
	bucket, objectPath, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || objectPath == "" {
		return "", "", fmt.Errorf("invalid GCS URL format, no object path: %s", gcsURI)
	}
	return bucket, objectPath, nil
}

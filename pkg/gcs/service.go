package gcs

import (
	"context"
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

// Upload writes content to objectPath in the configured bucket and returns
// the public HTTPS URL of the object.
func (g *GCSClient) Upload(ctx context.Context, objectPath string, content io.Reader) (string, error) {
	bucket := g.client.Bucket(g.bucketName)
	obj := bucket.Object(objectPath)

	writer := obj.NewWriter(ctx)
	if _, err := io.Copy(writer, content); err != nil {
		return "", fmt.Errorf("failed to copy content: %v", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer: %v", err)
	}

	return PublicURL(g.bucketName, objectPath), nil
}

// Delete removes the object referenced by a gs:// URL. Missing objects are
// not an error.
func (g *GCSClient) Delete(ctx context.Context, gcsURL string) error {
	bucketName, objectPath, err := splitGSURL(gcsURL)
	if err != nil {
		return err
	}

	bucket := g.client.Bucket(bucketName)
	obj := bucket.Object(objectPath)

	if err := obj.Delete(ctx); err != nil {
		if err == storage.ErrObjectNotExist {
			return nil
		}
		return fmt.Errorf("failed to delete object: %v", err)
	}

	return nil
}

// GetPresignedURL signs a time-limited download URL for a gs:// URI.
func (g *GCSClient) GetPresignedURL(ctx context.Context, gcsURI string, expiresAt time.Time) (string, error) {
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: expiresAt,
	}

	bucketName, objectPath, err := splitGSURL(gcsURI)
	if err != nil {
		return "", err
	}

	url, err := g.client.Bucket(bucketName).SignedURL(objectPath, opts)
	if err != nil {
		return "", fmt.Errorf("failed to get presigned url: %v", err)
	}
	return url, nil
}

func (g *GCSClient) Close() error {
	return g.client.Close()
}

// PublicURL builds the HTTPS URL for an object without touching the API.
// Recording egress writes directly to the bucket, so the URL is known as
// soon as the object path is.
func PublicURL(bucketName, objectPath string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucketName, objectPath)
}

func splitGSURL(gcsURL string) (bucket, object string, err error) {
	if !strings.HasPrefix(gcsURL, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URL format: %s", gcsURL)
	}
	rest := strings.TrimPrefix(gcsURL, "gs://")
	slashIndex := strings.Index(rest, "/")
	if slashIndex == -1 {
		return "", "", fmt.Errorf("invalid GCS URL format, no object path: %s", gcsURL)
	}
	return rest[:slashIndex], rest[slashIndex+1:], nil
}

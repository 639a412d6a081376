package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GetStorageClient initializes a Google Cloud Storage client.
// Prefers ADC; set GCS_CREDENTIALS_JSON to provide explicit JSON (e.g. locally).
func GetStorageClient(ctx context.Context) (*storage.Client, error) {
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

// WriteObject uploads data to bucket/objectName with the given content type.
func WriteObject(ctx context.Context, client *storage.Client, bucketName, objectName, contentType string, data []byte) error {
	if client == nil {
		return fmt.Errorf("gcs client is nil")
	}
	if bucketName == "" {
		return fmt.Errorf("gcs bucket is required")
	}
	wc := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return err
	}
	return wc.Close()
}

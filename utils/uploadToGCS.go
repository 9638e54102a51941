package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// getGoogleClient initializes a Google Cloud Storage client.
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	// Prefer ADC (service account / GOOGLE_APPLICATION_CREDENTIALS).
	// If you need to provide explicit JSON (e.g. locally), set GCS_CREDENTIALS_JSON.
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		client, err := storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// ArchiveFeedFile stores the raw bytes of an uploaded feed under
// feeds/<feedType>/<uniqueName>. Used as an audit trail for operator uploads;
// callers treat failures as non-fatal.
func ArchiveFeedFile(ctx context.Context, feedType string, originalName string, data []byte) (string, error) {
	bucketName := strings.TrimSpace(os.Getenv("GCS_BUCKET"))
	if bucketName == "" {
		return "", errors.New("GCS_BUCKET is required")
	}

	client, err := getGoogleClient(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	objectName := path.Join("feeds", feedType, GenerateUniqueFilename()+"_"+path.Base(originalName))
	wc := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	wc.ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	if _, err = wc.Write(data); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("failed to archive feed file: %v", err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("failed to archive feed file: %v", err)
	}
	return objectName, nil
}

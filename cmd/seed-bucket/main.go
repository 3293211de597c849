// Seeds a demo namespace into a MinIO/S3 bucket for manual testing.
//
// Usage: go run ./cmd/seed-bucket --endpoint http://localhost:9000 --bucket paperdrive --user demo
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/paperdrive/paperdrive-go/internal/keyspace"
	"github.com/paperdrive/paperdrive-go/internal/objstore"
)

func main() {
	endpoint := flag.String("endpoint", "http://localhost:9000", "object store endpoint")
	region := flag.String("region", "us-east-1", "object store region")
	bucket := flag.String("bucket", "paperdrive", "bucket to seed")
	accessKey := flag.String("access-key", "minioadmin", "access key ID")
	secretKey := flag.String("secret-key", "minioadmin", "secret access key")
	user := flag.String("user", "demo", "user ID for the seeded scope")
	flag.Parse()

	ctx := context.Background()
	logger := slog.Default()

	store, err := objstore.NewS3Store(ctx, objstore.S3Config{
		Endpoint:        *endpoint,
		Region:          *region,
		Bucket:          *bucket,
		AccessKeyID:     *accessKey,
		SecretAccessKey: *secretKey,
		UsePathStyle:    true,
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store setup failed: %v\n", err)
		os.Exit(1)
	}

	if err := store.EnsureBucket(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "bucket setup failed: %v\n", err)
		os.Exit(1)
	}

	scope, err := keyspace.UserScope(*user)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid user ID: %v\n", err)
		os.Exit(1)
	}

	if err := seed(ctx, store, scope); err != nil {
		fmt.Fprintf(os.Stderr, "seeding failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Seeded demo namespace under %s in bucket %s\n", scope.Prefix(), *bucket)
}

// seed writes a small namespace: a few folders (one empty, so its placeholder
// is load-bearing) and files at different depths.
func seed(ctx context.Context, store *objstore.S3Store, scope keyspace.Scope) error {
	folders := [][]string{
		{"documents"},
		{"documents", "reports"},
		{"archive"}, // stays empty; exists only through its placeholder
	}

	for _, path := range folders {
		key, err := scope.PlaceholderKey(path)
		if err != nil {
			return err
		}

		displayName := path[len(path)-1]

		if err := store.Put(ctx, key, []byte{}, objstore.DirectoryContentType,
			map[string]string{objstore.MetaDisplayName: displayName}); err != nil {
			return err
		}
	}

	files := []struct {
		parent      []string
		name        string
		payload     string
		contentType string
	}{
		{nil, "readme.txt", "Welcome to your paperdrive namespace.\n", "text/plain"},
		{[]string{"documents"}, "notes.txt", "Meeting notes go here.\n", "text/plain"},
		{[]string{"documents", "reports"}, "q1.json", `{"quarter":"Q1","status":"draft"}` + "\n", "application/json"},
	}

	for _, f := range files {
		key, err := scope.FileKey(f.parent, f.name)
		if err != nil {
			return err
		}

		if err := store.Put(ctx, key, []byte(f.payload), f.contentType,
			map[string]string{objstore.MetaDisplayName: f.name}); err != nil {
			return err
		}
	}

	return nil
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/paperdrive/paperdrive-go/internal/keyspace"
	"github.com/paperdrive/paperdrive-go/internal/nav"
	"github.com/paperdrive/paperdrive-go/internal/objstore"
	"github.com/paperdrive/paperdrive-go/internal/tree"
	"github.com/paperdrive/paperdrive-go/pkg/contenthash"
)

// errVerifyMismatch marks a completed verification that found differences.
// main() maps it to exit code 1 without the usual error banner.
var errVerifyMismatch = errors.New("verification found mismatches")

// verifyHashWorkers bounds concurrent local file hashing.
const verifyHashWorkers = 4

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <local-dir> [remote-folder]",
		Short: "Verify a local directory against a remote folder by hash",
		Long: `Walk a local directory and a remote folder in parallel and compare file
contents by SHA-256. Reports files missing on either side and hash mismatches.

Exit code 0 if everything matches; exit code 1 if any differences are found.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runVerify,
	}
}

// verifyMismatch is one difference between the local and remote trees.
type verifyMismatch struct {
	Path     string `json:"path"`
	Status   string `json:"status"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// verifyReport summarizes a verification run.
type verifyReport struct {
	Verified   int              `json:"verified"`
	Mismatches []verifyMismatch `json:"mismatches,omitempty"`
}

func runVerify(cmd *cobra.Command, args []string) error {
	localDir := args[0]

	remoteDir := "/"
	if len(args) > 1 {
		remoteDir = args[1]
	}

	ctx := cmd.Context()

	session, store, logger, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	logger.Debug("verify", "local_dir", localDir, "remote_dir", remoteDir)

	snapshot, stale := session.Tree()
	if stale {
		statusf("Warning: remote listing may be stale (last refresh failed)\n")
	}

	folder, err := nav.NewCursor(splitSegments(remoteDir)).Current(snapshot)
	if err != nil {
		return fmt.Errorf("resolving remote folder %q: %w", remoteDir, err)
	}

	report, err := verifyTrees(ctx, store, folder, localDir)
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("encoding JSON output: %w", err)
		}
	} else {
		printVerifyTable(report)
	}

	if len(report.Mismatches) > 0 {
		return errVerifyMismatch
	}

	return nil
}

// contentHasher is implemented by stores that can return an object's hash
// without downloading the payload.
type contentHasher interface {
	ContentHash(ctx context.Context, key string) (string, error)
}

// collectRemoteFiles flattens a folder subtree into relative-path -> file.
func collectRemoteFiles(folder *tree.Folder, prefix string, out map[string]*tree.File) {
	for name, file := range folder.Files {
		out[prefix+name] = file
	}

	for name, child := range folder.Folders {
		collectRemoteFiles(child, prefix+name+keyspace.Separator, out)
	}
}

// collectLocalFiles walks dir and returns slash-separated relative paths of
// regular files. Hidden files and directories (dot-prefixed) are skipped,
// matching the watch command's mirroring rules.
func collectLocalFiles(dir string) ([]string, error) {
	var paths []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if path == dir {
			return nil
		}

		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		paths = append(paths, filepath.ToSlash(rel))

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}

	return paths, nil
}

// remoteHash returns the stored content hash for a file, using a cheap
// metadata lookup when the store supports it and falling back to a full
// download otherwise.
func remoteHash(ctx context.Context, store objstore.Store, file *tree.File) (string, error) {
	if hasher, ok := store.(contentHasher); ok {
		hash, err := hasher.ContentHash(ctx, file.Key)
		if err != nil {
			return "", err
		}

		if hash != "" {
			return hash, nil
		}
	}

	payload, _, err := store.Get(ctx, file.Key)
	if err != nil {
		return "", err
	}

	return contenthash.Bytes(payload), nil
}

func verifyTrees(ctx context.Context, store objstore.Store, folder *tree.Folder, localDir string) (*verifyReport, error) {
	remote := make(map[string]*tree.File)
	collectRemoteFiles(folder, "", remote)

	local, err := collectLocalFiles(localDir)
	if err != nil {
		return nil, err
	}

	report := &verifyReport{}

	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(verifyHashWorkers)

	localSet := make(map[string]bool, len(local))

	for _, rel := range local {
		localSet[rel] = true

		file, ok := remote[rel]
		if !ok {
			report.Mismatches = append(report.Mismatches, verifyMismatch{
				Path:   rel,
				Status: "missing remote",
			})

			continue
		}

		g.Go(func() error {
			localHash, err := contenthash.File(filepath.Join(localDir, filepath.FromSlash(rel)))
			if err != nil {
				return err
			}

			storedHash, err := remoteHash(gctx, store, file)
			if err != nil {
				return fmt.Errorf("fetching remote hash for %s: %w", rel, err)
			}

			mu.Lock()
			defer mu.Unlock()

			if localHash == storedHash {
				report.Verified++
				return nil
			}

			report.Mismatches = append(report.Mismatches, verifyMismatch{
				Path:     rel,
				Status:   "hash mismatch",
				Expected: storedHash,
				Actual:   localHash,
			})

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for rel := range remote {
		if !localSet[rel] {
			report.Mismatches = append(report.Mismatches, verifyMismatch{
				Path:   rel,
				Status: "missing local",
			})
		}
	}

	sort.Slice(report.Mismatches, func(i, j int) bool {
		return report.Mismatches[i].Path < report.Mismatches[j].Path
	})

	return report, nil
}

func printVerifyTable(report *verifyReport) {
	fmt.Printf("Verified: %d files\n", report.Verified)

	if len(report.Mismatches) == 0 {
		fmt.Println("All files verified successfully.")
		return
	}

	fmt.Printf("Mismatches: %d\n\n", len(report.Mismatches))

	headers := []string{"PATH", "STATUS", "EXPECTED", "ACTUAL"}
	rows := make([][]string, len(report.Mismatches))

	for i := range report.Mismatches {
		m := &report.Mismatches[i]
		rows[i] = []string{m.Path, m.Status, m.Expected, m.Actual}
	}

	printTable(os.Stdout, headers, rows)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/paperdrive/paperdrive-go/internal/engine"
	"github.com/paperdrive/paperdrive-go/internal/keyspace"
	"github.com/paperdrive/paperdrive-go/internal/nav"
	"github.com/paperdrive/paperdrive-go/internal/objstore"
	"github.com/paperdrive/paperdrive-go/internal/tree"
	"github.com/paperdrive/paperdrive-go/pkg/contenthash"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List files and folders",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLs,
	}
}

func newTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree [path]",
		Short: "Display a folder subtree",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runTree,
	}
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <remote-path> [local-path]",
		Short: "Download a file",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runGet,
	}
}

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <local-path> [remote-folder]",
		Short: "Upload a file",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runPut,
	}

	cmd.Flags().String("content-type", "", "override the content type derived from the file extension")

	return cmd
}

func newRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or folder",
		Long: `Delete a file or a folder. Folder deletion is recursive — every contained
file and folder placeholder is removed in one batch. The batch is not atomic:
keys that fail are reported exactly; keys that succeeded stay deleted.

Use --recursive (-r) to confirm intent when deleting folders.`,
		Args: cobra.ExactArgs(1),
		RunE: runRm,
	}

	cmd.Flags().BoolP("recursive", "r", false, "confirm recursive folder deletion")

	return cmd
}

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a folder (recursive)",
		Args:  cobra.ExactArgs(1),
		RunE:  runMkdir,
	}
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Display file or folder metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  runStat,
	}
}

// cleanRemotePath strips leading/trailing slashes, returns "" for root.
func cleanRemotePath(path string) string {
	return strings.Trim(path, keyspace.Separator)
}

// splitSegments splits a remote path into its folder-name segments.
// Root ("" or "/") yields nil.
func splitSegments(path string) []string {
	clean := cleanRemotePath(path)
	if clean == "" {
		return nil
	}

	return strings.Split(clean, keyspace.Separator)
}

// splitParentAndName splits a remote path into parent segments and leaf name.
func splitParentAndName(path string) ([]string, string) {
	segments := splitSegments(path)
	if len(segments) == 0 {
		return nil, ""
	}

	return segments[:len(segments)-1], segments[len(segments)-1]
}

// openSession builds the store client and a refreshed engine session for
// the configured scope. The caller owns Close.
func openSession(ctx context.Context) (*engine.Session, objstore.Store, *slog.Logger, error) {
	logger := buildLogger()

	scope, err := resolvedCfg.ScopeFor()
	if err != nil {
		return nil, nil, nil, err
	}

	store, err := objstore.NewS3Store(ctx, objstore.S3Config{
		Endpoint:        resolvedCfg.Store.Endpoint,
		Region:          resolvedCfg.Store.Region,
		Bucket:          resolvedCfg.Store.Bucket,
		AccessKeyID:     resolvedCfg.Store.AccessKeyID,
		SecretAccessKey: resolvedCfg.Store.SecretAccessKey,
		UsePathStyle:    resolvedCfg.Store.UsePathStyle,
	}, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	session := engine.New(store, scope,
		engine.WithLogger(logger),
		engine.WithAllowedContentTypes(resolvedCfg.Upload.AllowedContentTypes),
	)

	if err := session.Refresh(ctx); err != nil {
		session.Close()
		return nil, nil, nil, fmt.Errorf("fetching listing: %w", err)
	}

	return session, store, logger, nil
}

// findFile resolves a remote path to a file node in the snapshot.
func findFile(t *tree.Tree, remotePath string) (*tree.File, error) {
	parentPath, name := splitParentAndName(remotePath)
	if name == "" {
		return nil, fmt.Errorf("%q is the root, not a file", remotePath)
	}

	parent, ok := t.Find(parentPath)
	if !ok {
		return nil, fmt.Errorf("no folder %q", strings.Join(parentPath, keyspace.Separator))
	}

	file, ok := parent.Files[name]
	if !ok {
		if _, isFolder := parent.Folders[name]; isFolder {
			return nil, fmt.Errorf("%q is a folder, not a file", remotePath)
		}

		return nil, fmt.Errorf("no file %q", remotePath)
	}

	return file, nil
}

func runLs(cmd *cobra.Command, args []string) error {
	remotePath := "/"
	if len(args) > 0 {
		remotePath = args[0]
	}

	ctx := cmd.Context()

	session, _, logger, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	logger.Debug("ls", "path", remotePath)

	snapshot, stale := session.Tree()

	entries, err := nav.NewCursor(splitSegments(remotePath)).List(snapshot)
	if err != nil {
		return fmt.Errorf("listing %q: %w", remotePath, err)
	}

	if stale {
		statusf("Warning: listing may be stale (last refresh failed)\n")
	}

	if flagJSON {
		return printEntriesJSON(entries)
	}

	printEntriesTable(entries)

	return nil
}

// lsJSONEntry is the JSON output schema for a single entry in ls output.
type lsJSONEntry struct {
	Name        string `json:"name"`
	Display     string `json:"display,omitempty"`
	Size        int64  `json:"size"`
	IsFolder    bool   `json:"is_folder"`
	ContentType string `json:"content_type,omitempty"`
	ModifiedAt  string `json:"modified_at,omitempty"`
}

func printEntriesJSON(entries []nav.Entry) error {
	out := make([]lsJSONEntry, 0, len(entries))

	for _, e := range entries {
		row := lsJSONEntry{
			Name:        e.Name,
			Size:        e.Size,
			IsFolder:    e.IsFolder,
			ContentType: e.ContentType,
		}

		if e.Display != e.Name {
			row.Display = e.Display
		}

		if !e.LastModified.IsZero() {
			row.ModifiedAt = e.LastModified.UTC().Format(time.RFC3339)
		}

		out = append(out, row)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

func printEntriesTable(entries []nav.Entry) {
	rows := make([][]string, 0, len(entries))

	for _, e := range entries {
		name := e.Name
		size := "-"
		modified := "-"

		if e.IsFolder {
			name += keyspace.Separator
		} else {
			size = formatSize(e.Size)
			modified = formatTime(e.LastModified)
		}

		rows = append(rows, []string{name, size, modified})
	}

	// Plain names when piped, aligned table with headers on a terminal.
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		for _, row := range rows {
			fmt.Println(row[0])
		}

		return
	}

	printTable(os.Stdout, []string{"NAME", "SIZE", "MODIFIED"}, rows)
}

func runTree(cmd *cobra.Command, args []string) error {
	remotePath := "/"
	if len(args) > 0 {
		remotePath = args[0]
	}

	ctx := cmd.Context()

	session, _, logger, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	logger.Debug("tree", "path", remotePath)

	snapshot, stale := session.Tree()

	folder, err := nav.NewCursor(splitSegments(remotePath)).Current(snapshot)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", remotePath, err)
	}

	if stale {
		statusf("Warning: listing may be stale (last refresh failed)\n")
	}

	label := cleanRemotePath(remotePath)
	if label == "" {
		label = keyspace.Separator
	}

	fmt.Println(label)
	printSubtree(folder, 1)

	return nil
}

// printSubtree renders one folder's children with two-space indentation,
// folders first.
func printSubtree(folder *tree.Folder, depth int) {
	indent := strings.Repeat("  ", depth)

	for _, entry := range nav.ListFolder(folder) {
		if entry.IsFolder {
			fmt.Printf("%s%s/\n", indent, entry.Name)
			printSubtree(folder.Folders[entry.Name], depth+1)

			continue
		}

		fmt.Printf("%s%s (%s)\n", indent, entry.Name, formatSize(entry.Size))
	}
}

func runGet(cmd *cobra.Command, args []string) error {
	remotePath := args[0]
	ctx := cmd.Context()

	session, store, logger, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	logger.Debug("get", "remote_path", remotePath)

	snapshot, _ := session.Tree()

	file, err := findFile(snapshot, remotePath)
	if err != nil {
		return err
	}

	payload, rec, err := store.Get(ctx, file.Key)
	if err != nil {
		return fmt.Errorf("downloading %q: %w", remotePath, err)
	}

	// Verify against the stored checksum when the object carries one.
	if rec.ContentHash != "" {
		if got := contenthash.Bytes(payload); got != rec.ContentHash {
			return fmt.Errorf("hash mismatch for %q: stored %s, downloaded %s", remotePath, rec.ContentHash, got)
		}
	}

	localPath := file.Name
	if len(args) > 1 {
		localPath = args[1]
	}

	if err := os.WriteFile(localPath, payload, 0o644); err != nil {
		return fmt.Errorf("writing %q: %w", localPath, err)
	}

	logger.Debug("download complete", "local_path", localPath, "bytes", len(payload))
	statusf("Downloaded %s (%s)\n", localPath, formatSize(int64(len(payload))))

	return nil
}

// contentTypeForFile derives an upload content type from the local file
// extension, falling back to a generic binary type.
func contentTypeForFile(localPath string) string {
	if ct := mime.TypeByExtension(filepath.Ext(localPath)); ct != "" {
		// Strip parameters like "; charset=utf-8"; the allowlist matches
		// bare media types.
		if idx := strings.Index(ct, ";"); idx >= 0 {
			ct = strings.TrimSpace(ct[:idx])
		}

		return ct
	}

	return "application/octet-stream"
}

// putJSONOutput is the JSON output schema for the put command.
type putJSONOutput struct {
	Uploaded string `json:"uploaded"`
	Key      string `json:"key"`
	Size     int64  `json:"size"`
	Hash     string `json:"hash"`
}

func runPut(cmd *cobra.Command, args []string) error {
	localPath := args[0]
	ctx := cmd.Context()

	fi, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("stating local file: %w", err)
	}

	if fi.IsDir() {
		return fmt.Errorf("%q is a directory, not a file", localPath)
	}

	if maxSize := resolvedCfg.Upload.MaxFileSize; maxSize > 0 && fi.Size() > maxSize {
		return fmt.Errorf("%q is %s, over the configured max of %s",
			localPath, formatSize(fi.Size()), formatSize(maxSize))
	}

	remoteDir := "/"
	if len(args) > 1 {
		remoteDir = args[1]
	}

	contentType, err := cmd.Flags().GetString("content-type")
	if err != nil {
		return err
	}

	if contentType == "" {
		contentType = contentTypeForFile(localPath)
	}

	payload, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("reading local file: %w", err)
	}

	session, _, logger, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	name := filepath.Base(localPath)
	logger.Debug("put", "local_path", localPath, "remote_dir", remoteDir, "name", name, "size", fi.Size())

	update, err := session.Run(ctx, engine.UploadFile(splitSegments(remoteDir), name, payload, contentType))
	recordOutcome(update, logger)

	if err != nil {
		return fmt.Errorf("uploading %q: %w", name, err)
	}

	hash := contenthash.Bytes(payload)

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(putJSONOutput{
			Uploaded: name,
			Key:      update.AppliedKeys[0],
			Size:     fi.Size(),
			Hash:     hash,
		})
	}

	statusf("Uploaded %s (%s, sha256 %s)\n", name, formatSize(fi.Size()), hash)

	return nil
}

// rmJSONOutput is the JSON output schema for the rm command.
type rmJSONOutput struct {
	Deleted     string   `json:"deleted"`
	RemovedKeys []string `json:"removed_keys"`
	FailedKeys  []string `json:"failed_keys,omitempty"`
}

func runRm(cmd *cobra.Command, args []string) error {
	remotePath := args[0]
	ctx := cmd.Context()

	session, _, logger, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	logger.Debug("rm", "path", remotePath)

	parentPath, name := splitParentAndName(remotePath)
	if name == "" {
		return fmt.Errorf("cannot delete the root")
	}

	snapshot, _ := session.Tree()

	parent, ok := snapshot.Find(parentPath)
	if !ok {
		return fmt.Errorf("no folder %q", strings.Join(parentPath, keyspace.Separator))
	}

	mutation := engine.DeleteFile(parentPath, name)

	if _, isFolder := parent.Folders[name]; isFolder {
		recursive, flagErr := cmd.Flags().GetBool("recursive")
		if flagErr != nil {
			return flagErr
		}

		if !recursive {
			return fmt.Errorf("cannot delete folder %q without --recursive (-r)", remotePath)
		}

		mutation = engine.DeleteFolder(parentPath, name)
	}

	update, err := session.Run(ctx, mutation)
	recordOutcome(update, logger)

	return emitRmResult(os.Stdout, remotePath, update, err)
}

// emitRmResult reports a delete outcome and passes the session error
// through. A partial failure still produces output — JSON or status lines
// describing which keys went through — before the non-zero exit.
func emitRmResult(out io.Writer, remotePath string, update engine.Update, err error) error {
	var partial *engine.PartialFailureError

	switch {
	case errors.As(err, &partial):
		if flagJSON {
			if encErr := encodeRmJSON(out, remotePath, update); encErr != nil {
				return encErr
			}

			return err
		}

		statusf("Deleted %d object(s); %d failed:\n", len(update.AppliedKeys), len(partial.FailedKeys))

		for _, key := range partial.FailedKeys {
			statusf("  %s\n", key)
		}

		return err

	case err != nil:
		return fmt.Errorf("deleting %q: %w", remotePath, err)
	}

	if flagJSON {
		return encodeRmJSON(out, remotePath, update)
	}

	statusf("Deleted %s (%d object(s))\n", remotePath, len(update.AppliedKeys))

	return nil
}

func encodeRmJSON(out io.Writer, remotePath string, update engine.Update) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	return enc.Encode(rmJSONOutput{
		Deleted:     remotePath,
		RemovedKeys: update.AppliedKeys,
		FailedKeys:  update.FailedKeys,
	})
}

// mkdirJSONOutput is the JSON output schema for the mkdir command.
type mkdirJSONOutput struct {
	Created string `json:"created"`
}

func runMkdir(cmd *cobra.Command, args []string) error {
	remotePath := cleanRemotePath(args[0])
	if remotePath == "" {
		return fmt.Errorf("cannot create root folder")
	}

	ctx := cmd.Context()

	session, _, logger, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	logger.Debug("mkdir", "path", remotePath)

	// Walk path segments, creating each missing folder. An existing folder
	// segment is "already there, continue"; an existing file of the same
	// name is a real conflict.
	segments := splitSegments(remotePath)

	for i := range segments {
		parentPath := segments[:i]
		name := segments[i]

		snapshot, _ := session.Tree()
		if parent, ok := snapshot.Find(parentPath); ok {
			if _, exists := parent.Folders[name]; exists {
				continue
			}
		}

		update, createErr := session.Run(ctx, engine.CreateFolder(parentPath, name))
		recordOutcome(update, logger)

		if createErr != nil {
			// A conflict with an existing folder means "already there";
			// a conflict with a file of the same name is a real error.
			if errors.Is(createErr, engine.ErrNameConflict) {
				current, _ := session.Tree()
				if parent, found := current.Find(parentPath); found {
					if _, isFolder := parent.Folders[name]; isFolder {
						continue
					}
				}
			}

			return fmt.Errorf("creating folder %q: %w", name, createErr)
		}
	}

	logger.Debug("mkdir complete", "path", remotePath)

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(mkdirJSONOutput{Created: remotePath})
	}

	statusf("Created %s\n", remotePath)

	return nil
}

// statJSONOutput is the JSON output schema for the stat command.
type statJSONOutput struct {
	Name        string `json:"name"`
	Display     string `json:"display,omitempty"`
	IsFolder    bool   `json:"is_folder"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type,omitempty"`
	Key         string `json:"key,omitempty"`
	ModifiedAt  string `json:"modified_at,omitempty"`
	Children    int    `json:"children,omitempty"`
}

func runStat(cmd *cobra.Command, args []string) error {
	remotePath := args[0]
	ctx := cmd.Context()

	session, _, logger, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	logger.Debug("stat", "path", remotePath)

	snapshot, _ := session.Tree()

	out, err := statNode(snapshot, remotePath)
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	}

	printStatText(out)

	return nil
}

func statNode(snapshot *tree.Tree, remotePath string) (*statJSONOutput, error) {
	segments := splitSegments(remotePath)

	if folder, ok := snapshot.Find(segments); ok {
		name := keyspace.Separator
		if len(segments) > 0 {
			name = segments[len(segments)-1]
		}

		return &statJSONOutput{
			Name:     name,
			IsFolder: true,
			Children: len(folder.Folders) + len(folder.Files),
		}, nil
	}

	file, err := findFile(snapshot, remotePath)
	if err != nil {
		return nil, err
	}

	out := &statJSONOutput{
		Name:        file.Name,
		Size:        file.Size,
		ContentType: file.ContentType,
		Key:         file.Key,
	}

	if file.Display() != file.Name {
		out.Display = file.Display()
	}

	if !file.LastModified.IsZero() {
		out.ModifiedAt = file.LastModified.UTC().Format(time.RFC3339)
	}

	return out, nil
}

func printStatText(out *statJSONOutput) {
	itemType := "file"
	if out.IsFolder {
		itemType = "folder"
	}

	fmt.Printf("Name:     %s\n", out.Name)
	fmt.Printf("Type:     %s\n", itemType)

	if out.IsFolder {
		fmt.Printf("Children: %d\n", out.Children)
		return
	}

	if out.Display != "" {
		fmt.Printf("Display:  %s\n", out.Display)
	}

	fmt.Printf("Size:     %s (%d bytes)\n", formatSize(out.Size), out.Size)
	fmt.Printf("Content:  %s\n", out.ContentType)
	fmt.Printf("Key:      %s\n", out.Key)

	if out.ModifiedAt != "" {
		fmt.Printf("Modified: %s\n", out.ModifiedAt)
	}
}

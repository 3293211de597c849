package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show namespace summary for the configured scope",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

// statusJSONOutput is the JSON output schema for the status command.
type statusJSONOutput struct {
	Endpoint  string `json:"endpoint,omitempty"`
	Bucket    string `json:"bucket"`
	Scope     string `json:"scope"`
	Folders   int    `json:"folders"`
	Files     int    `json:"files"`
	TotalSize int64  `json:"total_size"`
	Stale     bool   `json:"stale"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	session, _, _, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	snapshot, stale := session.Tree()
	folders, files, bytes := snapshot.Stats()

	scope := session.Scope()

	out := statusJSONOutput{
		Endpoint:  resolvedCfg.Store.Endpoint,
		Bucket:    resolvedCfg.Store.Bucket,
		Scope:     scope.Prefix(),
		Folders:   folders,
		Files:     files,
		TotalSize: bytes,
		Stale:     stale,
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	}

	if out.Endpoint != "" {
		fmt.Printf("Endpoint: %s\n", out.Endpoint)
	}

	fmt.Printf("Bucket:   %s\n", out.Bucket)
	fmt.Printf("Scope:    %s\n", out.Scope)
	fmt.Printf("Folders:  %d\n", out.Folders)
	fmt.Printf("Files:    %d (%s)\n", out.Files, formatSize(out.TotalSize))

	if out.Stale {
		fmt.Println("State:    stale (last refresh failed; listing is advisory)")
	} else {
		fmt.Println("State:    fresh")
	}

	return nil
}

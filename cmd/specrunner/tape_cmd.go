package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hansl/specification/pkg/archive"
	"github.com/hansl/specification/pkg/tape"
)

func newTapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tape",
		Short: "Inspect and move recorded tapes",
	}
	cmd.AddCommand(newTapeVerifyCmd(), newTapePushCmd(), newTapePullCmd())
	return cmd
}

func newTapeVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <dir>",
		Short: "Check a tape directory against its manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, entries, err := readTapeDir(args[0])
			if err != nil {
				return runtimeErr(err)
			}
			out := cmd.OutOrStdout()
			issues := tape.VerifyManifestIntegrity(entries, manifest)
			for i := 1; i < len(entries); i++ {
				if entries[i].Seq <= entries[i-1].Seq {
					issues = append(issues, fmt.Sprintf("non-monotonic sequence at index %d: %d <= %d",
						i, entries[i].Seq, entries[i-1].Seq))
				}
			}
			if len(issues) > 0 {
				_, _ = fmt.Fprintf(out, "Tape DIVERGED (%d issues):\n", len(issues))
				for _, issue := range issues {
					_, _ = fmt.Fprintf(out, "  - %s\n", issue)
				}
				return failed(nil)
			}
			digest, err := manifest.Digest()
			if err != nil {
				return runtimeErr(err)
			}
			_, _ = fmt.Fprintf(out, "Tape OK: %d entries\n", len(entries))
			_, _ = fmt.Fprintf(out, "Run ID:  %s\n", manifest.RunID)
			_, _ = fmt.Fprintf(out, "Digest:  sha256:%s\n", digest)
			return nil
		},
	}
}

func newTapePushCmd() *cobra.Command {
	var storeURL string
	cmd := &cobra.Command{
		Use:   "push <dir>",
		Short: "Archive a tape directory in a content-addressed store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, entries, err := readTapeDir(args[0])
			if err != nil {
				return runtimeErr(err)
			}
			ctx := commandContext(cmd)
			store, err := archive.Open(ctx, storeURL)
			if err != nil {
				return runtimeErr(err)
			}
			hash, err := archive.SaveTape(ctx, store, manifest, entries)
			if err != nil {
				return runtimeErr(err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().StringVar(&storeURL, "store", "", "store URL (path, file://, s3:// or gs://)")
	_ = cmd.MarkFlagRequired("store")
	return cmd
}

func newTapePullCmd() *cobra.Command {
	var storeURL string
	cmd := &cobra.Command{
		Use:   "pull <manifest-hash> <dir>",
		Short: "Restore an archived tape into a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			store, err := archive.Open(ctx, storeURL)
			if err != nil {
				return runtimeErr(err)
			}
			manifest, entries, err := archive.LoadTape(ctx, store, args[0])
			if err != nil {
				return runtimeErr(err)
			}
			dir := args[1]
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return runtimeErr(err)
			}
			if err := tape.WriteManifest(dir, manifest); err != nil {
				return runtimeErr(err)
			}
			if err := tape.WriteEntries(dir, entries); err != nil {
				return runtimeErr(err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "restored %d entries of run %s\n", len(entries), manifest.RunID)
			return nil
		},
	}
	cmd.Flags().StringVar(&storeURL, "store", "", "store URL (path, file://, s3:// or gs://)")
	_ = cmd.MarkFlagRequired("store")
	return cmd
}

func readTapeDir(dir string) (*tape.Manifest, []tape.Entry, error) {
	manifest, err := tape.ReadManifest(dir)
	if err != nil {
		return nil, nil, err
	}
	entries, err := tape.ReadEntries(dir)
	if err != nil {
		return nil, nil, err
	}
	return manifest, entries, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

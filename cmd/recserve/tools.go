package main

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/rushteam/recserve/bundle"
	"github.com/rushteam/recserve/engine"
	"github.com/rushteam/recserve/pkg/logging"
)

func newRecommendCmd() *cobra.Command {
	var (
		path   string
		userID int64
		n      int
	)
	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Load a local bundle and print recommendations for one user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := loadLocal(cmd.Context(), path)
			if err != nil {
				return err
			}
			eng := engine.New(
				engine.WithLogger(logging.New(cmd.ErrOrStderr())),
				engine.WithMetrics(engine.NewMetrics(prometheus.NewRegistry())),
			)
			if err := eng.Load(b); err != nil {
				return err
			}
			rec, err := eng.RecommendDetailed(cmd.Context(), userID, n)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().StringVarP(&path, "bundle", "b", "./artifacts", "bundle directory or archive file")
	cmd.Flags().Int64VarP(&userID, "user", "u", 0, "user id")
	cmd.Flags().IntVarP(&n, "n", "n", engine.DefaultCount, "number of recommendations")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newInspectCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print statistics of a local bundle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := loadLocal(cmd.Context(), path)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), b.Stats())
		},
	}
	cmd.Flags().StringVarP(&path, "bundle", "b", "./artifacts", "bundle directory or archive file")
	return cmd
}

func newPackCmd() *cobra.Command {
	var dir, out string
	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Pack a bundle directory into a single checksummed archive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := bundle.NewLoader(bundle.NewFileSource(dir), nil).Load(cmd.Context())
			if err != nil {
				return err
			}
			if err := bundle.WriteArchiveFile(out, b); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "packed %s -> %s\n", dir, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "./artifacts", "bundle directory")
	cmd.Flags().StringVarP(&out, "out", "o", "bundle.gob.gz", "archive file to write")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

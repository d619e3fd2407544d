package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/deskpilot/deskpilot/config"
	"github.com/deskpilot/deskpilot/internal/knowledge"
	"github.com/spf13/cobra"
)

func indexCMD() *cobra.Command {
	var cfgPath string
	var fetchURLs []string
	var out string

	var index = &cobra.Command{
		Use:   "index",
		Short: "Inspect or refresh the knowledge base source",
		Long: `Without flags, loads the configured knowledge source and reports how it
would chunk. With --fetch, pulls documentation pages over HTTP, extracts
their readable text and writes them as a knowledge source file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)

			if len(fetchURLs) > 0 {
				records, err := knowledge.FetchPages(context.Background(), fetchURLs)
				if err != nil {
					return err
				}
				data, err := json.MarshalIndent(records, "", "  ")
				if err != nil {
					return err
				}
				dest := out
				if dest == "" {
					dest = cfg.Knowledge.SourcePath
				}
				if err := os.WriteFile(dest, data, 0o644); err != nil {
					return err
				}
				fmt.Printf("wrote %d records to %s\n", len(records), dest)
				return nil
			}

			records, err := knowledge.LoadRecords(cfg.Knowledge.SourcePath)
			if err != nil {
				return err
			}
			chunks := knowledge.ChunkRecords(records, cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap)
			fmt.Printf("%s: %d records, %d chunks (chunk_size=%d overlap=%d)\n",
				cfg.Knowledge.SourcePath, len(records), len(chunks), cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap)
			return nil
		},
	}
	index.Flags().StringSliceVar(&fetchURLs, "fetch", nil, "documentation URLs to fetch into the knowledge source")
	index.Flags().StringVar(&out, "out", "", "output path for fetched records (default: configured source_path)")
	index.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config)")

	return index
}

package main

import (
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or reset the semantic cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cache entry count, total hits and entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint(serverAddr + "/api/cache")
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Evict every cache entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Post(serverAddr+"/api/cache/clear", "application/json", nil)
			if err != nil {
				return fmt.Errorf("request: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("gateway returned %s: %s", resp.Status, string(body))
			}
			fmt.Println("cache cleared")
			return nil
		},
	})
	return cmd
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ehr/revcycle/internal/config"
	"github.com/ehr/revcycle/internal/platform/x12"
)

func controlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "control",
		Short: "Manage X12 control number sequences",
	}
	cmd.AddCommand(controlSeedCmd())
	return cmd
}

// controlSeedCmd raises the stored interchange, group and transaction
// sequences so numbering continues past a previous clearinghouse feed.
func controlSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Raise the Redis control number sequences to at least --value",
		RunE: func(cmd *cobra.Command, args []string) error {
			value, _ := cmd.Flags().GetInt64("value")
			url, _ := cmd.Flags().GetString("redis-url")
			if url == "" {
				url = os.Getenv("REDIS_URL")
			}
			if url == "" {
				return fmt.Errorf("--redis-url or REDIS_URL is required")
			}

			seq, client, err := controlSequence(&config.Config{RedisURL: url})
			if err != nil {
				return err
			}
			defer client.Close()
			rs := seq.(*x12.RedisSequence)

			ctx := context.Background()
			for _, key := range []string{x12.InterchangeSequence, x12.GroupSequence, x12.TransactionSequence} {
				stored, err := rs.Seed(ctx, key, value)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: next control number %d\n", key, stored+1)
			}
			return nil
		},
	}
	cmd.Flags().Int64("value", 0, "Last control number already used")
	cmd.Flags().String("redis-url", "", "Redis URL (defaults to REDIS_URL)")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

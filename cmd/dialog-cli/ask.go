package main

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/beslagsboden/dialog-engine/internal/session"
)

func newAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <query>",
		Short: "Answer a single query without conversation state",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildCLIDeps()
			if err != nil {
				return err
			}
			defer deps.close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			result := deps.engine.Process(ctx, strings.Join(args, " "), session.NewContext())
			printResult(result)
			return nil
		},
	}
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/polyphony-run/polyphony/fiber"
)

// newAfterCommand demonstrates after(interval) { block }: the caller
// keeps going immediately while a child fiber sleeps, then runs block on
// its own, unrelated to whatever the caller is doing by then.
func newAfterCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "after",
		Short: "after(10ms) spawns a child that sleeps then runs, without blocking the caller",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := schedulerOptions()
			if err != nil {
				return err
			}
			start := time.Now()
			var callerDone, childValue any
			_, err = fiber.Run(context.Background(), func(ctx context.Context) (any, error) {
				child := fiber.After(ctx, 10*time.Millisecond, "delayed", func(ctx context.Context) (any, error) {
					return time.Since(start), nil
				})
				callerDone = time.Since(start)
				v, err := fiber.Await(ctx, child)
				childValue = v
				return nil, err
			}, opts...)
			if err != nil {
				return err
			}
			fmt.Printf("caller continued after = %v, child ran after = %v\n", callerDone, childValue)
			return nil
		},
	}
}

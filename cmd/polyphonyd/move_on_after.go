package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/polyphony-run/polyphony/fiber"
)

// newMoveOnAfterCommand demonstrates scenario S3: move_on_after returns
// its with_value once the timeout elapses, well before the inner sleep
// would otherwise complete.
func newMoveOnAfterCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "move-on-after",
		Short: "move_on_after(10ms, with_value: bar) { sleep(1s) } returns bar quickly (S3)",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := schedulerOptions()
			if err != nil {
				return err
			}
			start := time.Now()
			v, err := fiber.Run(context.Background(), func(ctx context.Context) (any, error) {
				return fiber.MoveOnAfter(ctx, 10*time.Millisecond, "bar", func(ctx context.Context) (any, error) {
					if _, err := fiber.Sleep(ctx, time.Second); err != nil {
						return nil, err
					}
					return "foo", nil
				})
			}, opts...)
			if err != nil {
				return err
			}
			fmt.Printf("result = %v, elapsed = %v\n", v, time.Since(start))
			return nil
		},
	}
}

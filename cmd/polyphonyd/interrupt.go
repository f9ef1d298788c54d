package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/polyphony-run/polyphony/fiber"
)

// newInterruptCommand demonstrates scenario S2: a fiber sleeping for a
// long time gets interrupted by a sibling; an uncaught Interrupt
// completes the fiber normally with a nil result.
func newInterruptCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "interrupt",
		Short: "interrupt a sleeping fiber and show it completes with a nil result (S2)",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := schedulerOptions()
			if err != nil {
				return err
			}
			var result any
			_, err = fiber.Run(context.Background(), func(ctx context.Context) (any, error) {
				f := fiber.Spin(ctx, "sleeper", func(ctx context.Context) (any, error) {
					if _, err := fiber.Sleep(ctx, time.Second); err != nil {
						return nil, err
					}
					return 42, nil
				})
				fiber.Spin(ctx, "interrupter", func(ctx context.Context) (any, error) {
					_, s := fiber.Current(ctx)
					f.Interrupt(s, nil)
					return nil, nil
				})
				if _, err := fiber.Suspend(ctx); err != nil {
					return nil, err
				}
				result = f.Result().Value()
				return nil, nil
			}, opts...)
			if err != nil {
				return err
			}
			fmt.Printf("fiber.result = %v\n", result)
			return nil
		},
	}
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/polyphony-run/polyphony/fiber"
)

// newSpinSuspendCommand demonstrates scenario S1: spawn a fiber
// returning a value, suspend the root, and report the child's result.
func newSpinSuspendCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "spin-suspend",
		Short: "spawn a fiber returning 42, suspend the root, print the result (S1)",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := schedulerOptions()
			if err != nil {
				return err
			}
			var result any
			_, err = fiber.Run(context.Background(), func(ctx context.Context) (any, error) {
				f := fiber.Spin(ctx, "answer", func(ctx context.Context) (any, error) {
					return 42, nil
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

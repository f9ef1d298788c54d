package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/polyphony-run/polyphony/fiber"
)

// newSnoozeRoundRobinCommand demonstrates scenario S5: three fibers each
// snoozing three times interleave in strict round-robin order.
func newSnoozeRoundRobinCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "snooze-round-robin",
		Short: "three fibers snoozing three times each interleave as [0,1,2,0,1,2,0,1,2] (S5)",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := schedulerOptions()
			if err != nil {
				return err
			}
			var values []int
			_, err = fiber.Run(context.Background(), func(ctx context.Context) (any, error) {
				for i := 0; i < 3; i++ {
					i := i
					fiber.Spin(ctx, fmt.Sprintf("snoozer-%d", i), func(ctx context.Context) (any, error) {
						for j := 0; j < 3; j++ {
							values = append(values, i)
							if _, err := fiber.Snooze(ctx); err != nil {
								return nil, err
							}
						}
						return nil, nil
					})
				}
				_, err := fiber.Suspend(ctx)
				return nil, err
			}, opts...)
			if err != nil {
				return err
			}
			fmt.Printf("values = %v\n", values)
			return nil
		},
	}
}

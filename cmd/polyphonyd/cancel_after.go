package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/polyphony-run/polyphony/fiber"
)

// newCancelAfterCommand demonstrates scenario S4: cancel_after raises
// Cancel past its own scope, caught here by an outer Catch (the Go
// rendition of `rescue Polyphony::Cancel`).
func newCancelAfterCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel-after",
		Short: "cancel_after(10ms) { sleep(1000s) } rescue :cancelled (S4)",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := schedulerOptions()
			if err != nil {
				return err
			}
			v, err := fiber.Run(context.Background(), func(ctx context.Context) (any, error) {
				result, caught, err := fiber.Catch(fiber.SigCancel, func() (any, error) {
					return fiber.CancelAfter(ctx, 10*time.Millisecond, func(ctx context.Context) (any, error) {
						return fiber.Sleep(ctx, 1000*time.Second)
					})
				})
				if err != nil {
					return nil, err
				}
				if caught {
					return "cancelled", nil
				}
				return result, nil
			}, opts...)
			if err != nil {
				return err
			}
			fmt.Printf("result = %v\n", v)
			return nil
		},
	}
}

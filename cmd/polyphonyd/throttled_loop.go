package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/polyphony-run/polyphony/fiber"
)

// newThrottledLoopCommand demonstrates spec §4.6/§8 property 8:
// throttled_loop(rate, count: n) runs body exactly n times, never starting
// an iteration sooner than 1/rate after the previous one started, and
// spin_loop wraps the same mechanism in a fiber that keeps going until
// Stop'd from outside.
func newThrottledLoopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "throttled-loop",
		Short: "throttled_loop(rate: 100/s, count: 5) runs body 5 times at least 10ms apart, taking at least 40ms (property 8)",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := schedulerOptions()
			if err != nil {
				return err
			}
			start := time.Now()
			var runs int
			_, err = fiber.Run(context.Background(), func(ctx context.Context) (any, error) {
				spin := fiber.SpinLoop(ctx, "poller", 100, func(ctx context.Context) error {
					runs++
					fmt.Printf("spin_loop iteration %d at %v\n", runs, time.Since(start))
					return nil
				})
				err := fiber.ThrottledLoop(ctx, 100, 5, func(ctx context.Context) error {
					fmt.Printf("throttled_loop iteration at %v\n", time.Since(start))
					return nil
				})
				if err != nil {
					return nil, err
				}
				if _, err := fiber.Sleep(ctx, 20*time.Millisecond); err != nil {
					return nil, err
				}
				_, s := fiber.Current(ctx)
				spin.Stop(s, nil)
				_, _ = fiber.Await(ctx, spin)
				return nil, nil
			}, opts...)
			if err != nil {
				return err
			}
			fmt.Printf("spin_loop ran %d iterations before being stopped, total elapsed = %v\n", runs, time.Since(start))
			return nil
		},
	}
}

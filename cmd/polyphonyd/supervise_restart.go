package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/polyphony-run/polyphony/fiber"
)

// newSuperviseRestartCommand demonstrates the restart form of Supervise
// (spec §4.4's restart option): a child that dies immediately every time
// gets respawned over and over with an exponentially growing backoff
// delay between attempts until, after 50ms, the supervisor is torn down with
// Terminate, which cascades to whichever respawned instance is still
// alive.
func newSuperviseRestartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "supervise-restart",
		Short: "a flaky child gets respawned with backoff until the supervisor is torn down",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := schedulerOptions()
			if err != nil {
				return err
			}

			var deaths int32

			_, err = fiber.Run(context.Background(), func(ctx context.Context) (any, error) {
				child := fiber.Spin(ctx, "flaky", func(ctx context.Context) (any, error) {
					return nil, fmt.Errorf("died on purpose")
				})

				supervisor := fiber.Spin(ctx, "supervisor", func(ctx context.Context) (any, error) {
					return nil, fiber.Supervise(ctx, []*fiber.Fiber{child},
						func(f *fiber.Fiber, o fiber.Outcome) {
							atomic.AddInt32(&deaths, 1)
						},
						fiber.WithRestart(fiber.RestartPolicy{
							InitialInterval: time.Millisecond,
							MaxInterval:     20 * time.Millisecond,
						}),
					)
				})

				if _, err := fiber.Sleep(ctx, 50*time.Millisecond); err != nil {
					return nil, err
				}
				_, s := fiber.Current(ctx)
				supervisor.Terminate(s)
				if _, err := fiber.Await(ctx, supervisor); err != nil && !errors.Is(err, fiber.ErrTerminated) {
					return nil, err
				}
				return nil, nil
			}, opts...)
			if err != nil {
				return err
			}
			fmt.Printf("deaths observed = %d\n", atomic.LoadInt32(&deaths))
			return nil
		},
	}
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/polyphony-run/polyphony/fiber"
)

// newSuperviseCommand demonstrates scenario S7: supervise(f1, f2) with a
// per-event callback accumulates [fiber, value] pairs in true death
// order, regardless of how the underlying map-free bookkeeping would
// otherwise reorder simultaneous deaths.
func newSuperviseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "supervise",
		Short: "supervise two mailbox-fed fibers and print [fiber,value] pairs in death order (S7)",
		RunE: func(cmd *cobra.Command, args []string) error {
			type event struct {
				tag   string
				value any
			}
			var buf []event

			opts, err := schedulerOptions()
			if err != nil {
				return err
			}

			_, err = fiber.Run(context.Background(), func(ctx context.Context) (any, error) {
				_, s := fiber.Current(ctx)

				f1 := fiber.Spin(ctx, "f1", func(ctx context.Context) (any, error) {
					return fiber.Receive(ctx)
				})
				f2 := fiber.Spin(ctx, "f2", func(ctx context.Context) (any, error) {
					return fiber.Receive(ctx)
				})

				f1.Send(s, "foo")
				f2.Send(s, "bar")

				return nil, fiber.Supervise(ctx, []*fiber.Fiber{f1, f2}, func(f *fiber.Fiber, o fiber.Outcome) {
					buf = append(buf, event{tag: f.Tag, value: o.Value()})
				})
			}, opts...)
			if err != nil {
				return err
			}
			for _, e := range buf {
				fmt.Printf("[%s %v]\n", e.tag, e.value)
			}
			return nil
		},
	}
}

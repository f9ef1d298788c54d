package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/polyphony-run/polyphony/backend"
	"github.com/polyphony-run/polyphony/fiber"
)

// newPipeCommand demonstrates scenario S6: a writer fiber writes
// "hello" into a pipe and closes it, a reader fiber blocks on Read until
// that data (and EOF) arrive, while an unrelated sleeper fiber ticks a
// counter concurrently.
func newPipeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pipe",
		Short: "pipe writer/reader cooperate over a backend-polled fd while a sleeper ticks (S6)",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, w, err := os.Pipe()
			if err != nil {
				return err
			}
			defer r.Close()
			defer w.Close()

			rfd, wfd := int(r.Fd()), int(w.Fd())
			if err := unix.SetNonblock(rfd, true); err != nil {
				return err
			}
			if err := unix.SetNonblock(wfd, true); err != nil {
				return err
			}

			poller, err := backend.New()
			if err != nil {
				return err
			}
			defer poller.Close()

			opts, err := schedulerOptions()
			if err != nil {
				return err
			}
			opts = append(opts, fiber.WithBackend(poller))

			var readResult string
			var counter int

			_, err = fiber.Run(context.Background(), func(ctx context.Context) (any, error) {
				readConn := backend.NewConn(rfd, poller)
				writeConn := backend.NewConn(wfd, poller)

				reader := fiber.Spin(ctx, "reader", func(ctx context.Context) (any, error) {
					buf := make([]byte, 64)
					n, _ := readConn.Read(ctx, buf)
					readResult = string(buf[:n])
					return readResult, nil
				})
				writer := fiber.Spin(ctx, "writer", func(ctx context.Context) (any, error) {
					if _, err := writeConn.Write(ctx, []byte("hello")); err != nil {
						return nil, err
					}
					return nil, writeConn.Close()
				})
				sleeper := fiber.Spin(ctx, "sleeper", func(ctx context.Context) (any, error) {
					for i := 0; i < 5; i++ {
						if _, err := fiber.Sleep(ctx, time.Millisecond); err != nil {
							return nil, err
						}
						counter++
					}
					return nil, nil
				})

				if _, err := fiber.Await(ctx, writer); err != nil {
					return nil, err
				}
				if _, err := fiber.Await(ctx, reader); err != nil {
					return nil, err
				}
				_, err := fiber.Await(ctx, sleeper)
				return nil, err
			}, opts...)
			if err != nil {
				return err
			}
			fmt.Printf("read = %q, counter = %d\n", readResult, counter)
			return nil
		},
	}
}

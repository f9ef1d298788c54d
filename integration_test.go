package polyphony

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/polyphony-run/polyphony/backend"
	"github.com/polyphony-run/polyphony/fiber"
)

// TestScenarios runs the seven end-to-end scenarios spec.md §8 anchors its
// testable properties to, the way the teacher's integration_test.go ran
// every bundled .class example end to end and asserted on captured output.
func TestScenarios(t *testing.T) {
	scenarios := []struct {
		name string
		run  func(t *testing.T)
	}{
		{"S1_SpinThenSuspendReturnsChildResult", testSpinSuspend},
		{"S2_InterruptCompletesWithNilResult", testInterrupt},
		{"S3_MoveOnAfterReturnsWithValueBeforeTimeout", testMoveOnAfter},
		{"S4_CancelAfterIsCaughtAsCancelled", testCancelAfter},
		{"S5_SnoozeInterleavesInRoundRobinOrder", testSnoozeRoundRobin},
		{"S6_PipeReaderSeesWriterOutputWhileSleeperTicks", testPipe},
		{"S7_SuperviseReportsDeathOrder", testSupervise},
	}

	for _, sc := range scenarios {
		t.Run(sc.name, sc.run)
	}
}

func testSpinSuspend(t *testing.T) {
	var result any
	_, err := fiber.Run(context.Background(), func(ctx context.Context) (any, error) {
		f := fiber.Spin(ctx, "answer", func(ctx context.Context) (any, error) {
			return 42, nil
		})
		if _, err := fiber.Suspend(ctx); err != nil {
			return nil, err
		}
		result = f.Result().Value()
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Errorf("fiber.result = %v, want 42", result)
	}
}

func testInterrupt(t *testing.T) {
	var result any
	_, err := fiber.Run(context.Background(), func(ctx context.Context) (any, error) {
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
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Errorf("fiber.result = %v, want nil", result)
	}
}

func testMoveOnAfter(t *testing.T) {
	start := time.Now()
	v, err := fiber.Run(context.Background(), func(ctx context.Context) (any, error) {
		return fiber.MoveOnAfter(ctx, 10*time.Millisecond, "bar", func(ctx context.Context) (any, error) {
			if _, err := fiber.Sleep(ctx, time.Second); err != nil {
				return nil, err
			}
			return "foo", nil
		})
	})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "bar" {
		t.Errorf("result = %v, want bar", v)
	}
	if elapsed >= 20*time.Millisecond {
		t.Errorf("elapsed = %v, want < 20ms", elapsed)
	}
}

func testCancelAfter(t *testing.T) {
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
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "cancelled" {
		t.Errorf("result = %v, want cancelled", v)
	}
}

func testSnoozeRoundRobin(t *testing.T) {
	var values []int
	_, err := fiber.Run(context.Background(), func(ctx context.Context) (any, error) {
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
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{0, 1, 2, 0, 1, 2, 0, 1, 2}
	if len(values) != len(want) {
		t.Fatalf("values = %v, want %v", values, want)
	}
	for i := range want {
		if values[i] != want[i] {
			t.Errorf("values = %v, want %v", values, want)
			break
		}
	}
}

func testPipe(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	rfd, wfd := int(r.Fd()), int(w.Fd())
	if err := unix.SetNonblock(rfd, true); err != nil {
		t.Fatalf("SetNonblock(r): %v", err)
	}
	if err := unix.SetNonblock(wfd, true); err != nil {
		t.Fatalf("SetNonblock(w): %v", err)
	}

	poller, err := backend.New()
	if err != nil {
		t.Fatalf("backend.New: %v", err)
	}
	defer poller.Close()

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
	}, fiber.WithBackend(poller))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if readResult != "hello" {
		t.Errorf("read = %q, want hello", readResult)
	}
	if counter != 5 {
		t.Errorf("counter = %d, want 5", counter)
	}
}

func testSupervise(t *testing.T) {
	type event struct {
		tag   string
		value any
	}
	var buf []event

	_, err := fiber.Run(context.Background(), func(ctx context.Context) (any, error) {
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
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(buf) != 2 || buf[0].tag != "f1" || buf[0].value != "foo" || buf[1].tag != "f2" || buf[1].value != "bar" {
		t.Errorf("buf = %+v, want [{f1 foo} {f2 bar}]", buf)
	}
}

// TestSuperviseRestartDemo exercises the restart form end to end, the way
// the CLI's supervise-restart command does, confirming a flaky child gets
// respawned rather than only reported once.
func TestSuperviseRestartDemo(t *testing.T) {
	var deaths int
	_, err := fiber.Run(context.Background(), func(ctx context.Context) (any, error) {
		flaky := fiber.Spin(ctx, "flaky", func(ctx context.Context) (any, error) {
			return nil, fmt.Errorf("died on purpose")
		})
		supervisor := fiber.Spin(ctx, "supervisor", func(ctx context.Context) (any, error) {
			return nil, fiber.Supervise(ctx, []*fiber.Fiber{flaky}, func(f *fiber.Fiber, o fiber.Outcome) {
				deaths++
			}, fiber.WithRestart(fiber.RestartPolicy{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}))
		})
		if _, err := fiber.Sleep(ctx, 30*time.Millisecond); err != nil {
			return nil, err
		}
		_, s := fiber.Current(ctx)
		supervisor.Terminate(s)
		if _, err := fiber.Await(ctx, supervisor); err != nil && !errors.Is(err, fiber.ErrTerminated) {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deaths < 2 {
		t.Errorf("deaths = %d, want at least 2", deaths)
	}
}

// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"runtime"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/prometheus/procfs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/pmuctl/pmuctl/events"
	"github.com/pmuctl/pmuctl/internal/config"
	"github.com/pmuctl/pmuctl/perf"
)

// maxAttachAttempts bounds how often one thread is reattached after losing
// a race with a configuration change.
const maxAttachAttempts = 3

func newStatCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stat [pid...]",
		Short: "Count the requested events on every thread of the given processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				a.v.Set(config.KeyPIDs, args)
			}
			return a.stat(cmd.Context(), cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.DurationP("duration", "d", config.DefaultDuration, "how long to count")
	flags.StringArrayP("extra", "e", nil, "generic perf `event` such as task-clock (repeatable)")
	a.bind(flags, map[string]string{
		"duration": config.KeyDuration,
		"extra":    config.KeyExtra,
	})
	return cmd
}

// threadBuffer names the thread to attach. stat reads its counts from the
// event sets Disable hands back, so Bind has nothing to record.
type threadBuffer struct {
	tid int
}

func (b *threadBuffer) TID() int            { return b.tid }
func (b *threadBuffer) Bind(*perf.EventSet) {}

func (a *app) stat(ctx context.Context, w io.Writer) error {
	cfg, sel, err := a.eventSelect()
	if err != nil {
		return err
	}
	if len(cfg.PIDs) == 0 {
		return errors.New("no pids to count")
	}

	attrs := perf.AttrSet(sel.Events())
	for _, name := range cfg.Extra {
		ev, err := events.Lookup(name)
		if err != nil {
			return err
		}
		attrs = append(attrs, ev)
	}

	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return fmt.Errorf("opening procfs: %w", err)
	}
	var bufs []*threadBuffer
	for _, pid := range cfg.PIDs {
		tids, err := threadsOf(fs, pid)
		if err != nil {
			return err
		}
		for _, tid := range tids {
			bufs = append(bufs, &threadBuffer{tid: tid})
		}
	}

	ctl := perf.NewCtl(nil, a.log)
	if _, err := ctl.Enable(attrs); err != nil {
		return err
	}
	// Whatever happens below, nothing may stay attached.
	defer func() {
		if err := ctl.Disable().Close(); err != nil {
			a.log.Warn("Failed to release perf events", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, buf := range bufs {
		g.Go(func() error {
			return attach(gctx, ctl, buf, a.log)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(ctl.ActiveEvents()) == 0 {
		return errors.New("could not attach to any thread")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, unix.SIGTERM)
	defer stop()
	select {
	case <-time.After(cfg.Duration):
	case <-ctx.Done():
	}

	sets := ctl.Disable()
	defer func() {
		if err := sets.Close(); err != nil {
			a.log.Warn("Failed to release perf events", zap.Error(err))
		}
	}()
	return printCounts(w, attrs, sets, a.log)
}

// attach attaches buf's thread, retrying when the attach raced with a
// configuration change. A thread that cannot be attached, typically
// because it exited, is logged and skipped.
func attach(ctx context.Context, ctl *perf.Ctl, buf *threadBuffer, log *zap.Logger) error {
	for range maxAttachAttempts {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, inert, err := ctl.AttachTo(buf)
		if rerr := perf.Release(inert); rerr != nil {
			log.Warn("Failed to release perf events", zap.Int("tid", buf.tid), zap.Error(rerr))
		}
		if errors.Is(err, perf.ErrStaleGeneration) {
			continue
		}
		var aerr *perf.AttachError
		if errors.As(err, &aerr) {
			if errors.Is(err, unix.ESRCH) {
				log.Debug("Thread exited before attach", zap.Int("tid", buf.tid))
				return nil
			}
			log.Warn("Skipping thread", zap.Int("tid", buf.tid), zap.Error(err))
			return nil
		}
		return err
	}
	return fmt.Errorf("thread %d: giving up after %d stale attaches", buf.tid, maxAttachAttempts)
}

// threadsOf returns the thread ids of process pid.
func threadsOf(fs procfs.FS, pid int) ([]int, error) {
	threads, err := fs.AllThreads(pid)
	if err != nil {
		return nil, fmt.Errorf("listing threads of %d: %w", pid, err)
	}
	tids := make([]int, len(threads))
	for i, p := range threads {
		tids[i] = p.PID
	}
	return tids, nil
}

// printCounts sums each event over the threads in sets and writes one
// line per event.
func printCounts(w io.Writer, attrs perf.AttrSet, sets perf.EventSetMap, log *zap.Logger) error {
	totals := make([]float64, len(attrs))
	counts := make([]perf.Count, len(attrs))
	threads := 0
	for _, tid := range slices.Sorted(maps.Keys(sets)) {
		if err := sets[tid].ReadGroup(counts); err != nil {
			log.Warn("Failed to read counters", zap.Int("tid", tid), zap.Error(err))
			continue
		}
		threads++
		for i, c := range counts {
			totals[i] += c.Value()
		}
	}

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', tabwriter.AlignRight)
	for i, ev := range attrs {
		fmt.Fprintf(tw, "%.0f\t%s\t\n", totals[i], ev)
	}
	fmt.Fprintf(tw, "%d\tthreads\t\n", threads)
	return tw.Flush()
}

package stress

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math/rand/v2"
	"os"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/arstream/internal/clock"
	"github.com/tphakala/arstream/internal/conf"
	"github.com/tphakala/arstream/internal/errors"
	"github.com/tphakala/arstream/internal/logging"
	"github.com/tphakala/arstream/internal/stream"
	"github.com/tphakala/arstream/internal/timeline"
)

// Options controls a stress run
type Options struct {
	Buffers      uint64 // buffers pushed by the producer
	Readers      int    // concurrent reader goroutines
	Capacity     int
	Elements     int
	Growth       int
	ClearHalfway bool // clear the store midway to exercise clear under load
}

// Report summarizes a stress run
type Report struct {
	Elapsed   time.Duration
	Producer  stream.ProducerStats
	Reads     uint64
	Misses    uint64
	Corrupted uint64
	Pool      timeline.PoolStats
	RSSBefore uint64
	RSSAfter  uint64
}

// Command creates the stress command
func Command(settings *conf.Settings) *cobra.Command {
	opts := Options{}

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Hammer one store with a producer and concurrent readers, verifying every payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Capacity == 0 {
				opts.Capacity = settings.Timeline.PoolCapacity
			}
			if opts.Elements == 0 {
				opts.Elements = settings.Timeline.MaxElements
			}
			if opts.Growth == 0 {
				opts.Growth = settings.Timeline.GrowthLimit
			}
			report, err := Run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			report.Print(cmd.OutOrStdout())
			if report.Corrupted > 0 {
				return fmt.Errorf("%d corrupted reads", report.Corrupted)
			}
			return nil
		},
	}

	cmd.Flags().Uint64Var(&opts.Buffers, "buffers", 100000, "Number of buffers to push")
	cmd.Flags().IntVar(&opts.Readers, "readers", 8, "Concurrent reader goroutines")
	cmd.Flags().IntVar(&opts.Capacity, "capacity", 0, "Pool capacity (timeline.poolcapacity when 0)")
	cmd.Flags().IntVar(&opts.Elements, "elements", 0, "Elements per buffer (timeline.maxelements when 0)")
	cmd.Flags().IntVar(&opts.Growth, "growth", 0, "Pool growth limit (timeline.growthlimit when 0)")
	cmd.Flags().BoolVar(&opts.ClearHalfway, "clear", false, "Clear the store halfway through")

	return cmd
}

// elementSize holds the timestamp, the element index and a checksum
const elementSize = 8 + 4 + 4

// encode writes a self-verifying payload for element index at ts
func encode(dst []byte, ts timeline.Timestamp, index int) {
	binary.LittleEndian.PutUint64(dst, uint64(ts))
	binary.LittleEndian.PutUint32(dst[8:], uint32(index))
	binary.LittleEndian.PutUint32(dst[12:], crc32.ChecksumIEEE(dst[:12]))
}

// verify checks that payload was written for element index of a buffer at ts
func verify(payload []byte, ts timeline.Timestamp, index int) bool {
	if len(payload) < elementSize {
		return false
	}
	if crc32.ChecksumIEEE(payload[:12]) != binary.LittleEndian.Uint32(payload[12:]) {
		return false
	}
	return binary.LittleEndian.Uint64(payload) == uint64(ts) &&
		binary.LittleEndian.Uint32(payload[8:]) == uint32(index)
}

func rss() uint64 {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return 0
	}
	return mem.RSS
}

// Run pushes opts.Buffers buffers while readers query the store, checking
// that every payload read matches the timestamp of the buffer it came from.
func Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Buffers == 0 || opts.Readers <= 0 {
		return nil, errors.Newf("stress run needs buffers and readers").
			Component("stress").
			Category(errors.CategoryValidation).
			Build()
	}
	logger := logging.ForService("stress")

	store := timeline.NewStore("stress")
	defer store.Close()
	if err := store.Configure(timeline.Config{
		PoolCapacity: opts.Capacity,
		MaxElements:  opts.Elements,
		ElementSize:  elementSize,
		GrowthLimit:  opts.Growth,
	}); err != nil {
		return nil, err
	}

	// Integer timestamps so encode can store them losslessly
	clk := clock.NewManual(1)
	fill := func(b *timeline.Buffer, seq uint64) error {
		for i := range b.MaxElementCount() {
			dst, err := b.Element(i)
			if err != nil {
				return err
			}
			encode(dst, b.Timestamp(), i)
		}
		if opts.ClearHalfway && seq == opts.Buffers/2 {
			store.Clear()
		}
		return nil
	}
	producer, err := stream.NewProducer(store, fill,
		stream.WithClock(stepping{clk}),
		stream.WithLimit(opts.Buffers),
	)
	if err != nil {
		return nil, err
	}

	report := &Report{RSSBefore: rss()}
	var reads, misses, corrupted atomic.Uint64
	var done atomic.Bool

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer done.Store(true)
		return producer.Run(gctx)
	})

	for r := range opts.Readers {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(uint64(r), uint64(start.UnixNano())))
			for !done.Load() && gctx.Err() == nil {
				newest := store.NewestTimestamp()
				if newest == timeline.NoTimestamp {
					continue
				}
				target := timeline.Timestamp(1 + rng.Float64()*float64(newest))
				ref, ok := store.ClosestBuffer(target, timeline.Mode(rng.IntN(3)))
				if !ok {
					misses.Add(1)
					continue
				}
				ts := ref.Timestamp()
				ref.ForEachPresent(func(index int, payload []byte) bool {
					if !verify(payload, ts, index) {
						corrupted.Add(1)
					}
					return true
				})
				ref.Release()
				reads.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Elapsed = time.Since(start)
	report.Producer = producer.Stats()
	report.Reads = reads.Load()
	report.Misses = misses.Load()
	report.Corrupted = corrupted.Load()
	report.Pool = store.PoolStats()
	report.RSSAfter = rss()

	logger.Info("stress run finished",
		"committed", report.Producer.Committed,
		"reads", report.Reads,
		"corrupted", report.Corrupted,
		"elapsed", report.Elapsed,
	)
	return report, nil
}

// stepping advances a manual clock by one millisecond per reading
type stepping struct {
	m *clock.Manual
}

func (s stepping) Now() float64 {
	return s.m.Advance(1)
}

// Print writes a human readable summary
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "Stress run finished in %s\n", r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  committed:         %d\n", r.Producer.Committed)
	fmt.Fprintf(w, "  capacity skipped:  %d\n", r.Producer.CapacitySkipped)
	fmt.Fprintf(w, "  reads:             %d (%d misses)\n", r.Reads, r.Misses)
	fmt.Fprintf(w, "  corrupted reads:   %d\n", r.Corrupted)
	fmt.Fprintf(w, "  pool slots:        %d (%d in use)\n", r.Pool.Slots, r.Pool.InUse)
	fmt.Fprintf(w, "  rss:               %.1f MiB -> %.1f MiB\n",
		float64(r.RSSBefore)/(1<<20), float64(r.RSSAfter)/(1<<20))
}

package simulate

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/arstream/internal/buildinfo"
	"github.com/tphakala/arstream/internal/clock"
	"github.com/tphakala/arstream/internal/conf"
	"github.com/tphakala/arstream/internal/events"
	"github.com/tphakala/arstream/internal/logging"
	"github.com/tphakala/arstream/internal/mqtt"
	"github.com/tphakala/arstream/internal/observability"
	"github.com/tphakala/arstream/internal/observability/metrics"
	"github.com/tphakala/arstream/internal/stream"
	"github.com/tphakala/arstream/internal/synchronizer"
	"github.com/tphakala/arstream/internal/timeline"
)

// markerPoints is the number of corners stored per marker
const markerPoints = 4

// Command creates the simulate command
func Command(settings *conf.Settings, info *buildinfo.Context) *cobra.Command {
	var duration time.Duration
	var streams int

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run simulated marker, pose and frame streams through a synchronizer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("duration") {
				settings.Simulate.Duration = duration
			}
			if cmd.Flags().Changed("streams") {
				settings.Simulate.Streams = streams
			}
			if err := conf.ValidateSettings(settings); err != nil {
				return err
			}
			report, err := Run(cmd.Context(), settings, info)
			if err != nil {
				return err
			}
			report.Print(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "How long to run, 0 runs until interrupted")
	cmd.Flags().IntVar(&streams, "streams", 2, "Number of marker streams")

	return cmd
}

// streamRun is one simulated sensor: a store with its producer and consumers
type streamRun struct {
	store     *timeline.Store
	producer  *stream.Producer
	consumers []*stream.Consumer
}

// StreamReport summarizes one stream
type StreamReport struct {
	Name      string
	Producer  stream.ProducerStats
	Consumers []stream.ConsumerStats
	Pool      timeline.PoolStats
	Resident  int
}

// Report summarizes a simulation run
type Report struct {
	Elapsed      time.Duration
	Streams      []StreamReport
	Sync         synchronizer.Stats
	Bus          events.Stats
	Combinations uint64
	Groups       uint64
	MQTT         *mqtt.BridgeStats
}

// Print writes a human readable summary
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "Simulation ran for %s\n\n", r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "%-12s %10s %10s %10s %10s %10s\n", "stream", "committed", "skipped", "consumed", "vanished", "resident")
	for _, s := range r.Streams {
		var consumed, vanished uint64
		for _, c := range s.Consumers {
			consumed += c.Consumed
			vanished += c.Vanished
		}
		fmt.Fprintf(w, "%-12s %10d %10d %10d %10d %10d\n",
			s.Name, s.Producer.Committed, s.Producer.CapacitySkipped, consumed, vanished, s.Resident)
	}
	fmt.Fprintf(w, "\nsynchronizer: %d combined, %d empty, %d skipped, %d aborted, %d element groups\n",
		r.Sync.Combined, r.Sync.Empty, r.Sync.Skipped, r.Sync.Aborted, r.Groups)
	fmt.Fprintf(w, "notifications: %d published, %d delivered, %d dropped\n",
		r.Bus.Published, r.Bus.Delivered, r.Bus.Dropped)
	if r.MQTT != nil {
		fmt.Fprintf(w, "mqtt: %d published, %d failed\n", r.MQTT.Published, r.MQTT.Failed)
	}
}

// Run wires stores, producers, consumers and the synchronizer and runs them
// until ctx is done or the configured duration elapses.
func Run(ctx context.Context, settings *conf.Settings, info *buildinfo.Context) (*Report, error) {
	if info == nil {
		info = buildinfo.New("", "")
	}
	logger := logging.ForService("simulate").With("instance", info.ShortID())
	sim := settings.Simulate

	var m *observability.Metrics
	if settings.Metrics.Enabled {
		var err error
		if m, err = observability.NewMetrics(); err != nil {
			return nil, err
		}
	}

	busOpts := []events.Option{events.WithQueueSize(settings.Timeline.NotifyQueue)}
	storeOpts := []timeline.Option{}
	if m != nil {
		busOpts = append(busOpts, events.WithMetrics(m.Events))
		storeOpts = append(storeOpts, timeline.WithMetrics(m.Timeline))
	}
	bus := events.NewBus(busOpts...)
	defer bus.Close()
	storeOpts = append(storeOpts, timeline.WithPublisher(bus))

	clk := clock.NewMonotonic()
	runs, err := buildStreams(settings, clk, uint64(time.Now().UnixNano()), storeOpts)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, r := range runs {
			r.store.Close()
		}
	}()

	sources := make([]synchronizer.Source, 0, len(runs))
	for _, r := range runs {
		sources = append(sources, r.store)
		for i := 0; i < sim.Consumers; i++ {
			c, err := stream.NewConsumer(r.store, bus, func(*timeline.BufferRef) error { return nil })
			if err != nil {
				return nil, err
			}
			r.consumers = append(r.consumers, c)
		}
	}

	mode, err := timeline.ParseMode(settings.Sync.Mode)
	if err != nil {
		return nil, err
	}
	syncOpts := []synchronizer.Option{
		synchronizer.WithMode(mode),
		synchronizer.WithTolerance(settings.Sync.Tolerance),
		synchronizer.WithPublisher(bus),
		synchronizer.WithClock(clk.Now),
	}
	for name, delay := range settings.Sync.Delays {
		syncOpts = append(syncOpts, synchronizer.WithDelay(name, delay))
	}
	if m != nil {
		syncOpts = append(syncOpts, synchronizer.WithMetrics(m.Sync))
	}
	syncer, err := synchronizer.New("sync", sources, syncOpts...)
	if err != nil {
		return nil, err
	}

	clearSub, err := bus.Subscribe(events.EventClear, syncer.HandleEvent)
	if err != nil {
		return nil, err
	}
	defer bus.Unsubscribe(clearSub)

	if sim.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sim.Duration)
		defer cancel()
	}

	report := &Report{}
	g, gctx := errgroup.WithContext(ctx)

	if m != nil {
		endpoint := observability.NewEndpoint(settings.Metrics.Listen, m)
		g.Go(func() error { return endpoint.Run(gctx) })
	}

	var bridge *mqtt.Bridge
	if settings.MQTT.Enabled {
		var mqttMetrics *metrics.MQTTMetrics
		if m != nil {
			mqttMetrics = m.MQTT
		}
		mqttConfig := mqtt.ConfigFromSettings(&settings.MQTT)
		// Brokers drop the older session when two clients share an id
		mqttConfig.ClientID += "-" + info.ShortID()
		client := mqtt.NewClient(mqttConfig, mqttMetrics, logger)
		bridge = mqtt.NewBridge(client, bus, settings.MQTT.TopicPrefix, events.EventSynchronized|events.EventClear, mqttMetrics)
		g.Go(func() error {
			// The simulation keeps running without a broker
			if err := bridge.Run(gctx); err != nil {
				logger.Warn("mqtt bridge stopped", "error", err)
			}
			return nil
		})
	}

	for _, r := range runs {
		g.Go(func() error { return r.producer.Run(gctx) })
		for _, c := range r.consumers {
			g.Go(func() error { return c.Run(gctx) })
		}
	}

	g.Go(func() error {
		return syncer.Run(gctx, settings.Sync.Interval, func(c *synchronizer.Combination) {
			report.Combinations++
			report.Groups += uint64(len(c.Groups))
			logger.Debug("combination",
				"reference", float64(c.Reference),
				"present", c.Present(),
				"groups", len(c.Groups),
			)
		})
	})

	start := time.Now()
	logger.Info("simulation started", "streams", len(runs), "duration", sim.Duration)
	if err := g.Wait(); err != nil {
		return nil, err
	}
	report.Elapsed = time.Since(start)

	for _, r := range runs {
		sr := StreamReport{
			Name:     r.store.Name(),
			Producer: r.producer.Stats(),
			Pool:     r.store.PoolStats(),
			Resident: r.store.Len(),
		}
		for _, c := range r.consumers {
			sr.Consumers = append(sr.Consumers, c.Stats())
		}
		report.Streams = append(report.Streams, sr)
	}
	report.Sync = syncer.Stats()
	report.Bus = bus.Stats()
	if bridge != nil {
		stats := bridge.Stats()
		report.MQTT = &stats
	}
	logger.Info("simulation finished", "combined", report.Sync.Combined, "elapsed", report.Elapsed)
	return report, nil
}

// buildStreams configures one store and producer per simulated sensor
func buildStreams(settings *conf.Settings, clk clock.Clock, seed uint64, storeOpts []timeline.Option) ([]*streamRun, error) {
	sim := settings.Simulate
	tl := settings.Timeline
	var runs []*streamRun

	producerOpts := func(i int) []stream.ProducerOption {
		return []stream.ProducerOption{
			stream.WithClock(clk),
			stream.WithRate(sim.Rate, 1),
			stream.WithOffset(-float64(i) * sim.Jitter),
		}
	}

	markerCodec := timeline.MarkerCodec{Points: markerPoints}
	for i := range sim.Streams {
		store := timeline.NewStore(fmt.Sprintf("markers-%d", i), storeOpts...)
		if err := store.Configure(timeline.Config{
			PoolCapacity: tl.PoolCapacity,
			MaxElements:  tl.MaxElements,
			ElementSize:  markerCodec.Size(),
			Kind:         timeline.KindMarker,
			GrowthLimit:  tl.GrowthLimit,
		}); err != nil {
			return nil, err
		}
		typed, err := timeline.NewTyped(store, markerCodec)
		if err != nil {
			return nil, err
		}
		// Each producer goroutine owns its generator
		rng := rand.New(rand.NewPCG(seed, uint64(i)))
		p, err := stream.NewProducer(store, stream.MarkerFill(typed, sim.Markers, markerPoints, sim.DropRate, rng), producerOpts(i)...)
		if err != nil {
			return nil, err
		}
		runs = append(runs, &streamRun{store: store, producer: p})
	}

	pose := timeline.NewStore("pose", storeOpts...)
	if err := pose.Configure(timeline.Config{
		PoolCapacity: tl.PoolCapacity,
		MaxElements:  1,
		Kind:         timeline.KindMatrix4,
		GrowthLimit:  tl.GrowthLimit,
	}); err != nil {
		return nil, err
	}
	poseTyped, err := timeline.NewTyped(pose, timeline.Matrix4Codec{})
	if err != nil {
		return nil, err
	}
	p, err := stream.NewProducer(pose, stream.PoseFill(poseTyped), producerOpts(len(runs))...)
	if err != nil {
		return nil, err
	}
	runs = append(runs, &streamRun{store: pose, producer: p})

	if sim.Frame.Enabled {
		layout := timeline.FrameLayout{
			Width:             sim.Frame.Width,
			Height:            sim.Frame.Height,
			Components:        sim.Frame.Components,
			BytesPerComponent: 1,
		}
		frames := timeline.NewStore("frames", storeOpts...)
		if err := frames.Configure(timeline.Config{
			PoolCapacity: tl.PoolCapacity,
			MaxElements:  1,
			Kind:         timeline.KindFrame,
			Frame:        layout,
			GrowthLimit:  tl.GrowthLimit,
		}); err != nil {
			return nil, err
		}
		p, err := stream.NewProducer(frames, stream.FrameFill(layout), producerOpts(len(runs))...)
		if err != nil {
			return nil, err
		}
		runs = append(runs, &streamRun{store: frames, producer: p})
	}

	return runs, nil
}

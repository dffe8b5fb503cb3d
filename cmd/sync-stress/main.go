package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"runtime"
	"time"

	"github.com/pkg/profile"

	"github.com/plus3/remoteworld/authority"
	"github.com/plus3/remoteworld/ecs"
	"github.com/plus3/remoteworld/hooks"
	"github.com/plus3/remoteworld/protocol"
	"github.com/plus3/remoteworld/remote"
	"github.com/plus3/remoteworld/session"
)

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Velocity struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type components struct {
	core     protocol.Components
	position ecs.Component[Position]
	velocity ecs.Component[Velocity]
}

func registerComponents(reg *ecs.ComponentRegistry) components {
	return components{
		core:     protocol.Register(reg),
		position: ecs.RegisterComponent[Position](reg, "position"),
		velocity: ecs.RegisterComponent[Velocity](reg, "velocity"),
	}
}

// driftSystem moves a fraction of the entities every tick.
type driftSystem struct {
	c     components
	share float64
}

func (d driftSystem) Execute(frame *ecs.UpdateFrame) {
	query := ecs.NewQuery(d.c.position).Filter(ecs.NewFilter().Incl(d.c.velocity.Desc()))
	for id, pos := range query.Iter(frame.Storage) {
		if rand.Float64() >= d.share {
			continue
		}
		vel, err := ecs.Get(frame.Storage, id, d.c.velocity)
		if err != nil {
			continue
		}
		pos.X += vel.X * frame.DeltaTime
		pos.Y += vel.Y * frame.DeltaTime
		frame.Diff.Set(id, d.c.position.With(pos))
	}
}

type client struct {
	sess *session.Session
	rt   *hooks.Runtime
	seen int
}

func main() {
	duration := flag.Duration("duration", 10*time.Second, "The total duration the test should run for.")
	entityCount := flag.Int("entities", 10000, "The initial number of entities to create.")
	clientCount := flag.Int("clients", 4, "The number of mirroring clients.")
	share := flag.Float64("share", 0.1, "The share of entities that move each tick.")
	gcPauseMetrics := flag.Bool("gc-pause-metrics", false, "Enable detailed GC pause metrics in the report.")
	profileMode := flag.String("profile", "", "Write a cpu or mem profile to the working directory.")
	flag.Parse()

	switch *profileMode {
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfileAllocs, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	case "":
	default:
		log.Fatalf("unknown profile mode %q", *profileMode)
	}

	log.Println("Starting sync stress test...")
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	// 1. Setup the authority
	reg := ecs.NewComponentRegistry()
	c := registerComponents(reg)
	server := authority.NewServer(reg, authority.WithLogger(quiet))
	server.RegisterSystem("drift", driftSystem{c: c, share: *share})

	// 2. Populate the world with moving entities
	log.Printf("Populating world with %d entities...\n", *entityCount)
	populate := ecs.NewDiff()
	for i := 0; i < *entityCount; i++ {
		populate.Spawn(ecs.Null,
			c.position.With(Position{X: rand.Float64() * 100, Y: rand.Float64() * 100}),
			c.velocity.With(Velocity{X: rand.Float64() - 0.5, Y: rand.Float64() - 0.5}))
	}
	ctx := context.Background()
	server.Apply(ctx, populate)
	log.Println("Population complete.")

	// 3. Connect the clients, each with one observer over every position
	clients := make([]*client, *clientCount)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	for i := range clients {
		conn, err := server.Connect(ctx, fmt.Sprintf("stress-%d", i))
		if err != nil {
			log.Fatalf("Failed to connect client %d: %v", i, err)
		}
		creg := ecs.NewComponentRegistry()
		cc := registerComponents(creg)
		cl := &client{
			sess: session.New(conn, conn.Welcome(), creg, session.WithLogger(quiet)),
			rt:   hooks.NewRuntime(hooks.WithLogger(quiet)),
		}
		go func() { _ = cl.sess.Run(runCtx) }()
		cl.rt.Mount("positions", func(h *hooks.H) {
			cl.seen = len(remote.UseRemoteComponents(h, cl.sess, ecs.NewFilter(), cc.position))
		})
		clients[i] = cl
	}

	// 4. Run the simulation loop
	report := &Report{
		Duration:       *duration,
		Entities:       *entityCount,
		Clients:        *clientCount,
		Share:          *share,
		GCPauseMetrics: *gcPauseMetrics,
	}

	runtime.ReadMemStats(&report.MemStatsStart)

	log.Printf("Running simulation for %s...\n", *duration)
	timeout, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	startTime := time.Now()
	lastFrameTime := time.Now()

Loop:
	for {
		select {
		case <-timeout.Done():
			break Loop
		default:
			deltaTime := time.Since(lastFrameTime).Seconds()
			lastFrameTime = time.Now()

			tickStart := time.Now()
			server.Tick(ctx, deltaTime)
			report.ServerTick.Samples = append(report.ServerTick.Samples, time.Since(tickStart))

			for _, cl := range clients {
				frameStart := time.Now()
				cl.rt.Tick(deltaTime)
				report.ClientFrame.Samples = append(report.ClientFrame.Samples, time.Since(frameStart))
			}
			report.TotalTicks++
		}
	}

	report.TotalTime = time.Since(startTime)
	report.ServerTick.Finalize()
	report.ClientFrame.Finalize()
	for _, cl := range clients {
		stats := cl.sess.Stats()
		report.DiffsApplied += stats.DiffsApplied
		report.OpsSkipped += stats.OpsSkipped
		report.DiffsBacklog += stats.DiffsPending
		report.MirroredEntities += cl.seen
	}
	runtime.ReadMemStats(&report.MemStatsEnd)

	cancelRun()
	server.Close(ctx)
	log.Println("Simulation finished.")

	// 5. Generate Report to Console
	fmt.Println("\n\n--- Sync Stress Test Report ---")
	if err := report.Generate(os.Stdout); err != nil {
		log.Fatalf("Failed to generate report: %v", err)
	}
	fmt.Println("--- End of Report ---")

	log.Println("Stress test complete.")
}

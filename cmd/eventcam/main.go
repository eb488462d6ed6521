// Command eventcam streams polarity events from an event camera, encodes
// them in fixed-size windows as sparse tensors and stores the batches.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/banshee-data/eventcam/internal/api"
	"github.com/banshee-data/eventcam/internal/config"
	"github.com/banshee-data/eventcam/internal/device"
	"github.com/banshee-data/eventcam/internal/device/caer"
	"github.com/banshee-data/eventcam/internal/device/edvs"
	"github.com/banshee-data/eventcam/internal/device/replay"
	"github.com/banshee-data/eventcam/internal/monitoring"
	"github.com/banshee-data/eventcam/internal/sparse"
	"github.com/banshee-data/eventcam/internal/store"
	"github.com/banshee-data/eventcam/internal/stream"
	"github.com/banshee-data/eventcam/internal/timeutil"
	"github.com/banshee-data/eventcam/internal/version"
)

var (
	configPath    = flag.String("config", "", "Path to a JSON configuration file (default "+config.DefaultConfigPath+" when present)")
	camera        = flag.String("camera", "", "Camera family: dvx, davis or edvs")
	busID         = flag.Int("bus", 0, "USB bus id (0 = any)")
	deviceAddress = flag.Int("addr", 0, "USB device address (0 = any)")
	serialPort    = flag.String("serial", "", "Serial port of an eDVS camera (empty = auto-detect)")
	replayPath    = flag.String("replay", "", "Replay an AEDAT 3.1 file or .pcap capture instead of a camera")
	replaySpeed   = flag.Float64("replay-speed", 0, "Replay pacing factor (0 = as fast as possible, 1 = real time)")
	udpPort       = flag.Int("udp-port", 0, "Only replay capture datagrams sent to this UDP port (0 = any)")
	window        = flag.Int("window", 0, "Events per encoded batch")
	dbPath        = flag.String("db", "", "SQLite database for encoded batches (empty = do not store)")
	listen        = flag.String("listen", "", "HTTP listen address (unset = from config, empty = no HTTP server)")
	statsInterval = flag.Duration("stats-interval", 0, "Interval of the statistics log line")
	showVersion   = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("eventcam", version.String())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("eventcam: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

// configFile returns the file to load: the -config value, or the shipped
// defaults file when it exists in the working directory.
func configFile(path string) string {
	if path != "" {
		return path
	}
	if _, err := os.Stat(config.DefaultConfigPath); err == nil {
		return config.DefaultConfigPath
	}
	return ""
}

// loadConfig reads the configuration file, if any, and applies the flags
// that were set on the command line on top of it.
func loadConfig() (*config.Config, error) {
	cfg := config.Empty()
	if path := configFile(*configPath); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
		log.Printf("loaded configuration from %s", path)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "camera":
			cfg.Camera = camera
		case "bus":
			cfg.BusID = busID
		case "addr":
			cfg.DeviceAddress = deviceAddress
		case "serial":
			cfg.SerialPort = serialPort
		case "replay":
			cfg.ReplayPath = replayPath
		case "replay-speed":
			cfg.ReplaySpeed = replaySpeed
		case "udp-port":
			cfg.UDPPort = udpPort
		case "window":
			cfg.WindowEvents = window
		case "db":
			cfg.StorePath = dbPath
		case "listen":
			cfg.Listen = listen
		case "stats-interval":
			s := statsInterval.String()
			cfg.StatsInterval = &s
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildRegistry returns the drivers for cfg. A replay path replaces every
// hardware driver with a replay of that recording as the configured camera.
func buildRegistry(cfg *config.Config) (device.Registry, error) {
	reg := device.Registry{}
	if path := cfg.GetReplayPath(); path != "" {
		cam, err := device.ParseCameraType(cfg.GetCamera())
		if err != nil {
			return nil, err
		}
		reg[cam] = replay.NewDriver(path, cam,
			replay.WithSpeed(cfg.GetReplaySpeed()),
			replay.WithUDPPort(cfg.GetUDPPort()),
		)
		return reg, nil
	}

	caer.Register(reg)
	reg[device.EDVS] = edvs.NewDriver(cfg.GetSerialPort(), edvs.PortOptions{BaudRate: cfg.GetSerialBaudRate()})
	return reg, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	reg, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	var st *store.Store
	if path := cfg.GetStorePath(); path != "" {
		if st, err = store.Open(path); err != nil {
			return fmt.Errorf("failed to open batch store: %w", err)
		}
		defer st.Close()
	}

	conn, err := device.Open(ctx, reg, cfg.GetCamera(), cfg.GetBusID(), cfg.GetDeviceAddress(),
		device.WithHostConfig(cfg.GetHostConfig()))
	if err != nil {
		return err
	}
	defer conn.Close()

	stats := newStats()

	// Background workers stop when the signal context ends or the camera
	// goes away.
	bgCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-conn.Done():
			cancel()
		case <-bgCtx.Done():
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		stats.Run(bgCtx, timeutil.RealClock{}, cfg.GetStatsInterval())
	}()

	if addr := cfg.GetListen(); addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveHTTP(bgCtx, addr, api.NewServer(conn, stats, st))
		}()
	}

	source := string(conn.Info().Camera)
	n, err := encodeWindows(stream.NewGenerator(conn, stream.WithStats(stats)), cfg.GetWindowEvents(), st, source)
	cancel()
	wg.Wait()
	stats.LogStats()
	log.Printf("encoded %d batches from %s", n, conn.Info())
	return err
}

// newStats returns the stream statistics with the Go runtime and process
// collectors added to its registry, so /metrics covers the whole service.
func newStats() *monitoring.StreamStats {
	stats := monitoring.NewStreamStats()
	stats.Registry().MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return stats
}

// encodeWindows encodes every window of g and saves it to st when st is
// non-nil. It returns when the generator closes.
func encodeWindows(g *stream.Generator, size int, st *store.Store, source string) (int, error) {
	// Saves outlive the shutdown signal so the final window is kept.
	saveCtx := context.Background()
	n := 0
	for w := range g.Windows(size) {
		b := sparse.Encode(w)
		n++
		if st == nil {
			continue
		}
		id, err := st.Save(saveCtx, b, source)
		if err != nil {
			return n, err
		}
		first, last, _ := b.TimeRange()
		log.Printf("stored batch %s: %d events, t=[%d, %d]", id, b.Len(), first, last)
	}
	return n, g.Err()
}

func serveHTTP(ctx context.Context, addr string, s *api.Server) {
	server := &http.Server{
		Addr:    addr,
		Handler: api.LoggingMiddleware(s.ServeMux()),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
}

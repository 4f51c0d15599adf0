// Command sdranalyzerd is the server binary: it loads configuration, starts
// the opaque analyzer on demand, and serves authenticated clients over the
// control channel described by the wire protocol.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BatchDrake/suscan-sub002/internal/analyzer"
	"github.com/BatchDrake/suscan-sub002/internal/config"
	"github.com/BatchDrake/suscan-sub002/internal/device"
	"github.com/BatchDrake/suscan-sub002/internal/metrics"
	"github.com/BatchDrake/suscan-sub002/internal/server"
)

func main() {
	configPath := flag.String("config", "/etc/sdranalyzerd/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("sdranalyzerd: %v", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	if cfg.Prometheus.Enabled && cfg.Prometheus.Listen != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			log.Printf("sdranalyzerd: metrics listening on %s", cfg.Prometheus.Listen)
			if err := http.ListenAndServe(cfg.Prometheus.Listen, mux); err != nil {
				log.Printf("sdranalyzerd: metrics server exited: %v", err)
			}
		}()
	}

	var pushStop chan struct{}
	if cfg.Prometheus.Enabled && cfg.Prometheus.PushURL != "" {
		jobName := cfg.Prometheus.JobName
		if jobName == "" {
			jobName = "sdranalyzerd"
		}
		pusher := metrics.NewPusher(reg, cfg.Prometheus.PushURL, jobName)
		pushStop = make(chan struct{})
		go pusher.Run(15*time.Second, pushStop)
		log.Printf("sdranalyzerd: pushing metrics to %s every 15s", cfg.Prometheus.PushURL)
	}

	auth := server.MapAuthStore(cfg.Auth.Users)

	facade := device.New()
	defer facade.Close()
	facade.Register(device.NewLocalDiscovery(time.Minute))
	if len(cfg.Devices) > 0 {
		facade.Register(&staticDiscovery{entries: cfg.Devices})
	}

	srv := server.New(auth, analyzer.NewReferenceFactory(), server.Options{
		ServerName:        "sdranalyzerd",
		MulticastEnabled:  cfg.Multicast.Enabled,
		CompressThreshold: cfg.Server.CompressionSize,
	})

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		log.Fatalf("sdranalyzerd: listen %s: %v", cfg.Server.Listen, err)
	}
	log.Printf("sdranalyzerd: listening on %s", cfg.Server.Listen)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		log.Println("sdranalyzerd: shutting down")
		if pushStop != nil {
			close(pushStop)
		}
		cancel()
	}()

	go pollClientCount(ctx, srv, m)

	if err := srv.Serve(ctx, ln); err != nil {
		log.Fatalf("sdranalyzerd: serve: %v", err)
	}
}

// staticDiscovery reports the fixed set of devices listed in the config file
// once per scan, for deployments with no dynamic discovery backend.
type staticDiscovery struct {
	entries []config.DeviceConfig
}

func (s *staticDiscovery) Name() string { return "static" }

func (s *staticDiscovery) Interval() time.Duration { return time.Minute }

func (s *staticDiscovery) Scan() ([]device.Device, error) {
	out := make([]device.Device, 0, len(s.entries))
	for _, e := range s.entries {
		uri := device.CanonicalURI(e.Kind, e.Path)
		out = append(out, device.Device{
			UUID:  device.UUID(uri),
			URI:   uri,
			Props: device.Properties{"kind": e.Kind, "path": e.Path},
		})
	}
	return out, nil
}

func pollClientCount(ctx context.Context, srv *server.Server, m *metrics.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ConnectedClients.Set(float64(srv.ClientCount()))
			srv.Sweep()
		}
	}
}

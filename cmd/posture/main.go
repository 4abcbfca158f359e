package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/posture.report/internal/api"
	"github.com/banshee-data/posture.report/internal/config"
	"github.com/banshee-data/posture.report/internal/db"
	"github.com/banshee-data/posture.report/internal/posture/detector"
	"github.com/banshee-data/posture.report/internal/posture/loop"
	"github.com/banshee-data/posture.report/internal/posture/monitor"
	"github.com/banshee-data/posture.report/internal/posture/publisher"
	"github.com/banshee-data/posture.report/internal/serialmux"
	"github.com/banshee-data/posture.report/internal/timeutil"
	"github.com/banshee-data/posture.report/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to posture config JSON (defaults are used when empty)")
	listen      = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen  = flag.String("grpc-listen", publisher.DefaultConfig().ListenAddr, "gRPC listen address (empty disables)")
	dbFile      = flag.String("db-path", "posture.db", "SQLite database for the calibration baseline (empty disables persistence)")
	sourceKind  = flag.String("source", "udp", "Landmark source: serial, udp, replay or pcap")
	serialPort  = flag.String("serial-port", "/dev/ttyUSB0", "Serial port of the pose device")
	baudRate    = flag.Int("baud", 0, "Serial baud rate (0 uses the device default)")
	udpListen   = flag.String("udp-listen", "localhost:5005", "UDP address to receive landmark frames on")
	udpRcvBuf   = flag.Int("udp-rcvbuf", 1<<20, "UDP receive buffer size in bytes")
	replayFile  = flag.String("replay", "", "JSON-lines recording for the replay source")
	replayLoop  = flag.Bool("replay-loop", false, "Loop the replay recording")
	pcapFile    = flag.String("pcap", "", "Capture file for the pcap source")
	pcapPort    = flag.Int("pcap-port", 5005, "UDP destination port carrying frames in the capture")
	windowSize  = flag.Int("window", monitor.DefaultWindow, "Analyses kept for the debug chart")
	autoStart   = flag.Bool("autostart", true, "Initialize the source and start detecting on launch")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags]\n       %s [flags] migrate <command>\n\n", os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if flag.Arg(0) == "migrate" {
		if *dbFile == "" {
			log.Fatal("-db-path is required for migrate")
		}
		if err := db.RunMigrateCommand(flag.Args()[1:], *dbFile, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	cfg := config.DefaultPostureConfig()
	if *configFile != "" {
		var err error
		cfg, err = config.LoadPostureConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	log.Printf("posture %s", version.String())
	clock := timeutil.RealClock{}

	src, err := buildSource(sourceFlags{
		Kind:       *sourceKind,
		SerialPort: *serialPort,
		BaudRate:   *baudRate,
		UDPListen:  *udpListen,
		UDPRcvBuf:  *udpRcvBuf,
		ReplayPath: *replayFile,
		ReplayLoop: *replayLoop,
		PCAPPath:   *pcapFile,
		PCAPPort:   *pcapPort,
		StaleAfter: cfg.GetSourceStaleAfter(),
	}, clock)
	if err != nil {
		log.Fatalf("failed to create landmark source: %v", err)
	}

	dcfg := cfg.DetectorConfig()
	dcfg.Clock = clock
	det := detector.New(dcfg)

	var database *db.DB
	if *dbFile != "" {
		database, err = db.NewDB(*dbFile)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()

		det.SetStore(db.NewBaselineStore(database, *sourceKind))
		if err := det.Restore(); err != nil {
			log.Printf("failed to restore calibration baseline: %v", err)
		}
	}

	if src.serial != nil {
		defer src.serial.Close()
	}
	lcfg := cfg.LoopConfig()
	lcfg.Clock = clock
	l := loop.New(det, src, lcfg)
	defer func() {
		if err := l.Close(); err != nil {
			log.Printf("failed to close landmark source: %v", err)
		}
	}()

	window := monitor.NewWindow(*windowSize)
	l.AddSink(window)

	pubCfg := publisher.DefaultConfig()
	pubCfg.ListenAddr = *grpcListen
	pub := publisher.NewPublisher(pubCfg)
	l.AddSink(pub)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if src.background != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := src.background(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("landmark source routine failed: %v", err)
			}
			log.Print("landmark source routine terminated")
		}()
	}

	if *grpcListen != "" {
		if err := pub.Start(l); err != nil {
			log.Fatalf("failed to start gRPC publisher: %v", err)
		}
		defer pub.Stop()
	}

	if *autoStart {
		if err := l.Initialize(ctx); err != nil {
			// the HTTP API can retry via POST /api/start
			log.Printf("failed to initialize landmark source: %v", err)
		} else if err := l.Start(ctx); err != nil {
			log.Printf("failed to start detection: %v", err)
		}
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(ctx, l, pub).ServeMux()
		window.AttachAdminRoutes(mux)
		if database != nil {
			database.AttachAdminRoutes(mux)
		}
		if src.serial != nil {
			src.serial.AttachAdminRoutes(mux)
		} else {
			serialmux.NewDisabledSerialMux().AttachAdminRoutes(mux)
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("HTTP API listening on %s", *listen)

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
	}()

	wg.Wait()
	l.Stop()
	log.Printf("Graceful shutdown complete")
}

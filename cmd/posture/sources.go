package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/banshee-data/posture.report/internal/posture/loop"
	"github.com/banshee-data/posture.report/internal/posture/source"
	"github.com/banshee-data/posture.report/internal/serialmux"
	"github.com/banshee-data/posture.report/internal/timeutil"
)

// sourceFlags selects and configures the landmark source.
type sourceFlags struct {
	Kind       string
	SerialPort string
	BaudRate   int
	UDPListen  string
	UDPRcvBuf  int
	ReplayPath string
	ReplayLoop bool
	PCAPPath   string
	PCAPPort   int
	StaleAfter time.Duration
}

// landmarkSource is a loop.Source plus whatever must run beside it.
type landmarkSource struct {
	loop.Source
	// serial is set only for the serial source; its admin routes are mounted
	// and its Monitor loop runs in background.
	serial serialmux.SerialMuxInterface
	// background runs until ctx is done. It may be nil.
	background func(ctx context.Context) error
}

func buildSource(f sourceFlags, clock timeutil.Clock) (*landmarkSource, error) {
	switch f.Kind {
	case "serial":
		if f.SerialPort == "" {
			return nil, errors.New("-serial-port is required for the serial source")
		}
		mux, err := serialmux.NewRealSerialMux(f.SerialPort, serialmux.PortOptions{BaudRate: f.BaudRate})
		if err != nil {
			return nil, err
		}
		return &landmarkSource{
			Source:     source.NewSerial(mux, f.StaleAfter, clock),
			serial:     mux,
			background: mux.Monitor,
		}, nil

	case "udp":
		return &landmarkSource{Source: source.NewUDP(source.UDPConfig{
			Address:    f.UDPListen,
			RcvBuf:     f.UDPRcvBuf,
			StaleAfter: f.StaleAfter,
			Clock:      clock,
		})}, nil

	case "replay":
		if f.ReplayPath == "" {
			return nil, errors.New("-replay is required for the replay source")
		}
		return &landmarkSource{Source: source.NewReplay(f.ReplayPath, f.ReplayLoop)}, nil

	case "pcap":
		if f.PCAPPath == "" {
			return nil, errors.New("-pcap is required for the pcap source")
		}
		latest := source.NewLatest(f.StaleAfter, clock)
		opts := source.PCAPOptions{UDPPort: f.PCAPPort, Realtime: true}
		return &landmarkSource{
			Source: latest,
			background: func(ctx context.Context) error {
				n, err := source.ReadPCAPFile(ctx, f.PCAPPath, opts, latest)
				log.Printf("pcap replay finished after %d frames", n)
				return err
			},
		}, nil
	}
	return nil, fmt.Errorf("unknown source %q (want serial, udp, replay or pcap)", f.Kind)
}

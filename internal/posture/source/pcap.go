package source

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// PCAPOptions controls how a capture is replayed into a Latest holder.
type PCAPOptions struct {
	// UDPPort selects the datagrams carrying frames.
	UDPPort int
	// Realtime sleeps between packets according to their capture timestamps.
	Realtime bool
}

// ReadPCAPFile feeds the UDP payloads of a capture file into dst and
// returns the number of frames ingested. Payloads that do not decode are
// counted by dst and skipped.
func ReadPCAPFile(ctx context.Context, path string, opts PCAPOptions, dst *Latest) (int, error) {
	src, decoder, closeFn, err := openCapture(path, opts.UDPPort)
	if err != nil {
		return 0, err
	}
	defer closeFn()

	packetSource := gopacket.NewPacketSource(src, decoder)
	ingested := 0
	packetCount := 0
	var prev time.Time
	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			logf("PCAP reader stopping due to context cancellation (processed %d packets)", packetCount)
			return ingested, ctx.Err()
		case packet := <-packetSource.Packets():
			if packet == nil {
				logf("PCAP file reading complete: %d packets, %d frames in %v", packetCount, ingested, time.Since(startTime))
				return ingested, nil
			}
			packetCount++

			udpLayer := packet.Layer(layers.LayerTypeUDP)
			if udpLayer == nil {
				continue
			}
			udp, ok := udpLayer.(*layers.UDP)
			if !ok || int(udp.DstPort) != opts.UDPPort || len(udp.Payload) == 0 {
				continue
			}

			if opts.Realtime {
				ts := packet.Metadata().Timestamp
				if !prev.IsZero() && ts.After(prev) {
					if err := sleepCtx(ctx, ts.Sub(prev)); err != nil {
						return ingested, err
					}
				}
				prev = ts
			}

			if err := dst.Ingest(udp.Payload); err != nil {
				logf("Error decoding PCAP packet %d: %v", packetCount, err)
				continue
			}
			ingested++
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func describeFilter(port int) string {
	return fmt.Sprintf("udp port %d", port)
}

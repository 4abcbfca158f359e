//go:build !pcap
// +build !pcap

package source

import (
	"fmt"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
)

// openCapture reads the file in pure Go; ReadPCAPFile filters by port
// itself. Build with -tags=pcap to use libpcap and a BPF filter instead.
func openCapture(path string, udpPort int) (gopacket.PacketDataSource, gopacket.Decoder, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, nil, fmt.Errorf("failed to read PCAP header %s: %w", path, err)
	}
	logf("PCAP filter (in process): %s", describeFilter(udpPort))
	return r, r.LinkType(), func() { f.Close() }, nil
}

//go:build pcap
// +build pcap

package source

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

// openCapture uses libpcap so the port filter runs as BPF.
func openCapture(path string, udpPort int) (gopacket.PacketDataSource, gopacket.Decoder, func(), error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	filter := describeFilter(udpPort)
	if err := handle.SetBPFFilter(filter); err != nil {
		handle.Close()
		return nil, nil, nil, fmt.Errorf("failed to set BPF filter '%s': %w", filter, err)
	}
	logf("PCAP BPF filter set: %s", filter)
	return handle, handle.LinkType(), handle.Close, nil
}

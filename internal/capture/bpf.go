package capture

import (
	"fmt"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"
)

// CompileBPF compiles a tcpdump-style filter into raw instructions for an
// AF_PACKET socket.
func CompileBPF(filter string, snapLen int) ([]bpf.RawInstruction, error) {
	insns, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snapLen, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to compile BPF filter %q: %w", filter, err)
	}

	raw := make([]bpf.RawInstruction, len(insns))
	for i, ins := range insns {
		raw[i] = bpf.RawInstruction{Op: ins.Code, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}

	// Round-trip through the x/net decoder to reject programs the kernel
	// verifier would refuse anyway.
	if _, ok := bpf.Disassemble(raw); !ok {
		return nil, fmt.Errorf("BPF filter %q compiled to an undecodable program", filter)
	}
	return raw, nil
}

//go:build linux

package capture

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/convo/internal/core"
)

// LiveSource captures from an interface through a TPACKET_V3 ring.
type LiveSource struct {
	device string
	handle *afpacket.TPacket
}

// OpenLive opens an AF_PACKET socket on cfg.Device.
func OpenLive(cfg LiveConfig) (Source, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("live capture requires a device: %w", core.ErrConfigInvalid)
	}
	frameSize, blockSize, numBlocks, err := ringSize(cfg.BufferSizeMB, cfg.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, err
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(cfg.Device),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(time.Duration(cfg.TimeoutMs)*time.Millisecond),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open AF_PACKET on %s: %w", cfg.Device, err)
	}

	if cfg.Filter != "" {
		raw, err := CompileBPF(cfg.Filter, frameSize)
		if err != nil {
			tp.Close()
			return nil, err
		}
		if err := tp.SetBPF(raw); err != nil {
			tp.Close()
			return nil, fmt.Errorf("failed to attach BPF filter: %w", err)
		}
	}
	return &LiveSource{device: cfg.Device, handle: tp}, nil
}

func (s *LiveSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	if s.handle == nil {
		return nil, gopacket.CaptureInfo{}, core.ErrSourceClosed
	}
	// ZeroCopy data is only valid until the next read; the assembler copies
	// what it keeps.
	data, ci, err := s.handle.ZeroCopyReadPacketData()
	if errors.Is(err, afpacket.ErrTimeout) {
		return nil, ci, ErrReadTimeout
	}
	return data, ci, err
}

func (s *LiveSource) LinkType() layers.LinkType { return layers.LinkTypeEthernet }

func (s *LiveSource) Name() string { return s.device }

func (s *LiveSource) Close() {
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
}

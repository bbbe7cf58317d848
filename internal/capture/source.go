package capture

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"firestige.xyz/convo/internal/core"
)

// ErrReadTimeout is returned by live sources when no packet arrived within
// the poll timeout. Callers keep reading.
var ErrReadTimeout = errors.New("capture: read timed out")

// Source yields raw link-layer packets.
type Source interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
	Name() string
	Close()
}

// FileSource reads a pcap or pcapng capture file.
type FileSource struct {
	path   string
	handle *pcap.Handle
}

// OpenFile opens a capture file, applying filter if it is not empty.
func OpenFile(path, filter string) (*FileSource, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file %s: %w", path, err)
	}
	if filter != "" {
		if err := handle.SetBPFFilter(filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("failed to set BPF filter %q: %w", filter, err)
		}
	}
	return &FileSource{path: path, handle: handle}, nil
}

func (s *FileSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	if s.handle == nil {
		return nil, gopacket.CaptureInfo{}, core.ErrSourceClosed
	}
	data, ci, err := s.handle.ReadPacketData()
	if errors.Is(err, io.EOF) {
		return nil, ci, io.EOF
	}
	return data, ci, err
}

func (s *FileSource) LinkType() layers.LinkType {
	if s.handle == nil {
		return layers.LinkTypeEthernet
	}
	return s.handle.LinkType()
}

func (s *FileSource) Name() string { return s.path }

func (s *FileSource) Close() {
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
}

// LiveConfig configures an AF_PACKET capture.
type LiveConfig struct {
	Device       string
	Filter       string
	SnapLen      int
	BufferSizeMB int
	TimeoutMs    int
}

// ringSize picks TPACKET_V3 ring geometry: frames aligned to 16 bytes,
// blocks a page multiple holding whole frames, and enough blocks to fill
// roughly bufferMB.
func ringSize(bufferMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	const tpacketAlignment = 16
	const tpacketHdrLen = 52

	if bufferMB <= 0 {
		return 0, 0, 0, fmt.Errorf("buffer size must be positive, got %d MB", bufferMB)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snap length must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("page size must be a positive multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	frameSize = (tpacketHdrLen + snapLen + tpacketAlignment - 1) / tpacketAlignment * tpacketAlignment

	const framesPerBlock = 32
	blockSize = (frameSize*framesPerBlock + pageSize - 1) / pageSize * pageSize

	numBlocks = bufferMB * 1024 * 1024 / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return frameSize, blockSize, numBlocks, nil
}

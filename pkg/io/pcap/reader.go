// Package pcap turns packet captures into packet-count series: packets are
// counted per fixed-width time bucket, optionally filtered by protocol.
package pcap

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/hed1ad/volumeguard/pkg/ensemble"
	vgio "github.com/hed1ad/volumeguard/pkg/io"
)

// Protocol selects which packets are counted.
type Protocol string

// Supported protocol filters.
const (
	ProtocolAll  Protocol = "all"
	ProtocolTCP  Protocol = "tcp"
	ProtocolUDP  Protocol = "udp"
	ProtocolICMP Protocol = "icmp"
)

// DefaultInterval is the default bucket width.
const DefaultInterval = time.Minute

// ParseProtocol validates a protocol filter name.
func ParseProtocol(s string) (Protocol, error) {
	p := Protocol(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case "":
		return ProtocolAll, nil
	case ProtocolAll, ProtocolTCP, ProtocolUDP, ProtocolICMP:
		return p, nil
	}
	return "", fmt.Errorf("unknown protocol %q", s)
}

// Reader reads packets from a PCAP file and buckets them into a series.
type Reader struct {
	handle   *pcap.Handle
	interval time.Duration
	protocol Protocol
	bpf      string
}

// Option configures a Reader.
type Option func(*Reader)

// WithInterval sets the bucket width.
func WithInterval(d time.Duration) Option {
	return func(r *Reader) {
		r.interval = d
	}
}

// WithProtocol counts only packets of protocol p.
func WithProtocol(p Protocol) Option {
	return func(r *Reader) {
		r.protocol = p
	}
}

// WithBPF applies a BPF filter expression before counting.
func WithBPF(expr string) Option {
	return func(r *Reader) {
		r.bpf = expr
	}
}

// NewFileReader creates a reader for PCAP files.
func NewFileReader(filename string, opts ...Option) (*Reader, error) {
	r := &Reader{
		interval: DefaultInterval,
		protocol: ProtocolAll,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.interval <= 0 {
		return nil, fmt.Errorf("bucket interval must be positive, got %s", r.interval)
	}

	handle, err := pcap.OpenOffline(filename)
	if err != nil {
		return nil, err
	}

	if r.bpf != "" {
		if err := handle.SetBPFFilter(r.bpf); err != nil {
			handle.Close()
			return nil, fmt.Errorf("bpf filter %q: %w", r.bpf, err)
		}
	}

	r.handle = handle
	return r, nil
}

// Read counts every matching packet into its time bucket.
func (r *Reader) Read() ([]ensemble.Observation, error) {
	if r.handle == nil {
		return nil, errors.New("reader not initialized")
	}

	var timestamps []time.Time
	packetSource := gopacket.NewPacketSource(r.handle, r.handle.LinkType())

	for packet := range packetSource.Packets() {
		metadata := packet.Metadata()
		if metadata == nil || metadata.Timestamp.IsZero() {
			continue
		}
		if !Matches(packet, r.protocol) {
			continue
		}
		timestamps = append(timestamps, metadata.Timestamp)
	}

	return vgio.Bucketize(timestamps, r.interval), nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.handle != nil {
		r.handle.Close()
	}
	return nil
}

// Matches reports whether packet carries protocol p.
func Matches(packet gopacket.Packet, p Protocol) bool {
	switch p {
	case ProtocolTCP:
		return packet.Layer(layers.LayerTypeTCP) != nil
	case ProtocolUDP:
		return packet.Layer(layers.LayerTypeUDP) != nil
	case ProtocolICMP:
		return packet.Layer(layers.LayerTypeICMPv4) != nil || packet.Layer(layers.LayerTypeICMPv6) != nil
	}
	return true
}

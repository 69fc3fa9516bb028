// Package pcap reads and writes the classic libpcap file format.
//
// The proxy uses it to record the DHCP frames it handles and the boot
// replies it crafts, and the debug command uses it to replay captures
// through the classifier.
package pcap

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// LinkType describes the contents of each packet in a pcap.
type LinkType uint32

// Some of the more commonly used LinkTypes.
const (
	LinkEthernet LinkType = 1
	LinkRaw      LinkType = 101
)

const (
	magicMicros = 0xa1b2c3d4
	magicNanos  = 0xa1b23c4d
)

type fileHeader struct {
	Magic uint32
	Major uint16
	Minor uint16
	// Timezone correction and time accuracy, both 0 in practice.
	Ignored uint64
	Snaplen uint32
	Type    uint32
}

type recordHeader struct {
	Sec     uint32
	SubSec  uint32
	Len     uint32
	OrigLen uint32
}

// Packet is one raw packet and its metadata.
type Packet struct {
	Timestamp time.Time
	Length    int
	Bytes     []byte
}

// Reader extracts packets from a pcap file. Use it like a
// bufio.Scanner: call Next until it returns false, then check Err.
type Reader struct {
	LinkType LinkType

	r     io.Reader
	order binary.ByteOrder
	tmult int64

	pkt *Packet
	err error
}

// NewReader returns a new Reader that decodes pcap data from r.
func NewReader(r io.Reader) (*Reader, error) {
	ret := &Reader{
		r:     bufio.NewReader(r),
		order: binary.LittleEndian,
	}

	var header fileHeader
	bs := make([]byte, binary.Size(header))
	if _, err := io.ReadFull(ret.r, bs); err != nil {
		return nil, fmt.Errorf("reading pcap header: %w", err)
	}

	// The magic is defined as "same" or "opposite" endian, so look at
	// the version numbers to pick the byte order.
	if err := binary.Read(bytes.NewReader(bs), ret.order, &header); err != nil {
		return nil, err
	}
	if header.Major == 0x200 && header.Minor == 0x400 {
		ret.order = binary.BigEndian
		if err := binary.Read(bytes.NewReader(bs), ret.order, &header); err != nil {
			return nil, err
		}
	}
	switch header.Magic {
	case magicMicros:
		ret.tmult = 1000
	case magicNanos:
		ret.tmult = 1
	default:
		return nil, errors.New("bad magic")
	}

	if header.Major != 2 || header.Minor != 4 {
		return nil, fmt.Errorf("unknown pcap version %d.%d", header.Major, header.Minor)
	}

	ret.LinkType = LinkType(header.Type)

	return ret, nil
}

// Next advances to the next packet. It returns false at the end of
// the file or on error.
func (r *Reader) Next() bool {
	if r.err != nil {
		return false
	}

	var hdr recordHeader
	if err := binary.Read(r.r, r.order, &hdr); err != nil {
		if !errors.Is(err, io.EOF) {
			r.err = fmt.Errorf("reading packet header: %w", err)
		}
		r.pkt = nil
		return false
	}

	bs := make([]byte, hdr.Len)
	if _, err := io.ReadFull(r.r, bs); err != nil {
		r.err = fmt.Errorf("reading packet body: %w", err)
		r.pkt = nil
		return false
	}

	r.pkt = &Packet{
		Timestamp: time.Unix(int64(hdr.Sec), r.tmult*int64(hdr.SubSec)),
		Length:    int(hdr.OrigLen),
		Bytes:     bs,
	}
	return true
}

// Packet returns the packet read by the last call to Next.
func (r *Reader) Packet() *Packet {
	return r.pkt
}

// Err returns the first error encountered while reading, if any.
// Reaching the end of the file is not an error.
func (r *Reader) Err() error {
	return r.err
}

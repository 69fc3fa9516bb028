package pcap

import (
	"encoding/binary"
	"io"
	"sync"
	"time"
)

// Writer serializes Packets to an io.Writer in pcap format. It is
// safe for concurrent use.
type Writer struct {
	Writer   io.Writer
	LinkType LinkType
	SnapLen  uint32
	// ByteOrder defaults to little endian.
	ByteOrder binary.ByteOrder

	mu            sync.Mutex
	headerWritten bool
}

func (w *Writer) order() binary.ByteOrder {
	if w.ByteOrder != nil {
		return w.ByteOrder
	}
	return binary.LittleEndian
}

func (w *Writer) header() error {
	snap := w.SnapLen
	if snap == 0 {
		snap = 65535
	}
	hdr := fileHeader{
		Magic:   magicNanos,
		Major:   2,
		Minor:   4,
		Snaplen: snap,
		Type:    uint32(w.LinkType),
	}
	if err := binary.Write(w.Writer, w.order(), hdr); err != nil {
		return err
	}
	w.headerWritten = true
	return nil
}

// Put serializes pkt to w.Writer.
func (w *Writer) Put(pkt *Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.headerWritten {
		if err := w.header(); err != nil {
			return err
		}
	}
	hdr := recordHeader{
		Sec:     uint32(pkt.Timestamp.Unix()),
		SubSec:  uint32(pkt.Timestamp.Nanosecond()),
		Len:     uint32(len(pkt.Bytes)),
		OrigLen: uint32(pkt.Length),
	}
	if err := binary.Write(w.Writer, w.order(), hdr); err != nil {
		return err
	}
	_, err := w.Writer.Write(pkt.Bytes)
	return err
}

// WriteFrame records a complete frame captured or sent at ts.
func (w *Writer) WriteFrame(ts time.Time, frame []byte) error {
	return w.Put(&Packet{
		Timestamp: ts,
		Length:    len(frame),
		Bytes:     frame,
	})
}

package pcap

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteRead(t *testing.T) {
	base := time.Unix(1500000000, 0)
	pkts := []*Packet{
		{Timestamp: base, Length: 42, Bytes: []byte{1, 2, 3, 4}},
		{Timestamp: base.Add(1500 * time.Microsecond), Length: 30, Bytes: []byte{2, 3, 4, 5}},
		{Timestamp: base.Add(2 * time.Second), Length: 20, Bytes: []byte{3, 4, 5, 6}},
		{Timestamp: base.Add(3*time.Second + 7), Length: 10, Bytes: []byte{4, 5, 6, 7}},
	}

	serializations := map[string]bool{}
	for _, order := range []binary.ByteOrder{nil, binary.LittleEndian, binary.BigEndian} {
		var b bytes.Buffer
		w := &Writer{
			Writer:    &b,
			LinkType:  LinkEthernet,
			SnapLen:   65535,
			ByteOrder: order,
		}
		for _, pkt := range pkts {
			require.NoError(t, w.Put(pkt))
		}

		serializations[b.String()] = true

		r, err := NewReader(&b)
		require.NoError(t, err)
		assert.Equal(t, LinkEthernet, r.LinkType)

		var readBack []*Packet
		for r.Next() {
			readBack = append(readBack, r.Packet())
		}
		require.NoError(t, r.Err())
		require.Len(t, readBack, len(pkts))

		for i := range pkts {
			assert.True(t, pkts[i].Timestamp.Equal(readBack[i].Timestamp), "timestamp of packet %d", i)
			assert.Equal(t, pkts[i].Length, readBack[i].Length)
			assert.Equal(t, pkts[i].Bytes, readBack[i].Bytes)
		}
	}

	assert.Len(t, serializations, 2, "expected one serialization per endianness")
}

func TestWriteFrame(t *testing.T) {
	var b bytes.Buffer
	w := &Writer{Writer: &b, LinkType: LinkEthernet}
	frame := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	require.NoError(t, w.WriteFrame(time.Unix(10, 0), frame))

	r, err := NewReader(&b)
	require.NoError(t, err)
	require.True(t, r.Next())
	assert.Equal(t, frame, r.Packet().Bytes)
	assert.Equal(t, len(frame), r.Packet().Length)
	assert.False(t, r.Next())
	assert.NoError(t, r.Err())
}

func TestReaderErrors(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte{1, 2, 3}))
	assert.Error(t, err, "short header")

	bad := make([]byte, 24)
	binary.LittleEndian.PutUint32(bad, 0x12345678)
	binary.LittleEndian.PutUint16(bad[4:], 2)
	binary.LittleEndian.PutUint16(bad[6:], 4)
	_, err = NewReader(bytes.NewReader(bad))
	assert.EqualError(t, err, "bad magic")

	// A record header promising more bytes than the file holds.
	var b bytes.Buffer
	w := &Writer{Writer: &b, LinkType: LinkEthernet}
	require.NoError(t, w.Put(&Packet{Timestamp: time.Unix(1, 0), Length: 8, Bytes: make([]byte, 8)}))
	truncated := b.Bytes()[:b.Len()-4]

	r, err := NewReader(bytes.NewReader(truncated))
	require.NoError(t, err)
	assert.False(t, r.Next())
	assert.Error(t, r.Err())
}

package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Ogg/Opus clip packaging (RFC 3533 container, RFC 7845 mapping).
// Clips are short, so the whole file is built and parsed in memory.

const (
	oggCapture     = "OggS"
	oggHeaderBOS   = 0x02
	oggHeaderEOS   = 0x04
	opusPreSkip    = 312 // encoder lookahead at 48kHz
	packetsPerPage = 50
)

var crcTable = makeCRCTable()

// makeCRCTable builds the Ogg CRC-32 table (poly 0x04c11db7, no
// reflection, zero init).
func makeCRCTable() [256]uint32 {
	var t [256]uint32
	for i := range t {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if r&0x80000000 != 0 {
				r = (r << 1) ^ 0x04c11db7
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return t
}

func oggCRC(data []byte) uint32 {
	var crc uint32
	for _, b := range data {
		crc = (crc << 8) ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}

// OggOpusMuxer packages Opus frames into a playable .ogg file. It
// satisfies the recorder's clip muxer contract.
type OggOpusMuxer struct {
	serial uint32
}

// NewOggOpusMuxer creates a muxer with a fixed stream serial.
func NewOggOpusMuxer(serial uint32) *OggOpusMuxer {
	return &OggOpusMuxer{serial: serial}
}

func (m *OggOpusMuxer) FileExt() string { return ".ogg" }
func (m *OggOpusMuxer) MIME() string    { return "audio/ogg" }

// Mux builds a complete Ogg Opus file from 20ms mono Opus frames.
func (m *OggOpusMuxer) Mux(frames [][]byte) ([]byte, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("audio: mux: no frames")
	}

	var buf bytes.Buffer
	seq := uint32(0)

	writePage(&buf, oggHeaderBOS, 0, m.serial, seq, [][]byte{opusHead()})
	seq++
	writePage(&buf, 0, 0, m.serial, seq, [][]byte{opusTags()})
	seq++

	granule := uint64(opusPreSkip)
	for start := 0; start < len(frames); start += packetsPerPage {
		end := start + packetsPerPage
		if end > len(frames) {
			end = len(frames)
		}
		page := frames[start:end]
		granule += uint64(len(page)) * opusFrameSize

		var headerType byte
		if end == len(frames) {
			headerType = oggHeaderEOS
		}
		writePage(&buf, headerType, granule, m.serial, seq, page)
		seq++
	}

	return buf.Bytes(), nil
}

func opusHead() []byte {
	var b bytes.Buffer
	b.WriteString("OpusHead")
	b.WriteByte(1)            // version
	b.WriteByte(opusChannels) // channel count
	_ = binary.Write(&b, binary.LittleEndian, uint16(opusPreSkip))
	_ = binary.Write(&b, binary.LittleEndian, uint32(opusSampleRate))
	_ = binary.Write(&b, binary.LittleEndian, uint16(0)) // output gain
	b.WriteByte(0)                                       // mapping family
	return b.Bytes()
}

func opusTags() []byte {
	var b bytes.Buffer
	b.WriteString("OpusTags")
	vendor := "gochat"
	_ = binary.Write(&b, binary.LittleEndian, uint32(len(vendor)))
	b.WriteString(vendor)
	_ = binary.Write(&b, binary.LittleEndian, uint32(0)) // comment count
	return b.Bytes()
}

// writePage appends one Ogg page. Every packet must complete within
// the page; the muxer never emits continued packets.
func writePage(buf *bytes.Buffer, headerType byte, granule uint64, serial, seq uint32, packets [][]byte) {
	var lacing []byte
	for _, p := range packets {
		n := len(p)
		for n >= 255 {
			lacing = append(lacing, 255)
			n -= 255
		}
		lacing = append(lacing, byte(n))
	}

	var page bytes.Buffer
	page.WriteString(oggCapture)
	page.WriteByte(0) // stream structure version
	page.WriteByte(headerType)
	_ = binary.Write(&page, binary.LittleEndian, granule)
	_ = binary.Write(&page, binary.LittleEndian, serial)
	_ = binary.Write(&page, binary.LittleEndian, seq)
	_ = binary.Write(&page, binary.LittleEndian, uint32(0)) // CRC placeholder
	page.WriteByte(byte(len(lacing)))
	page.Write(lacing)
	for _, p := range packets {
		page.Write(p)
	}

	raw := page.Bytes()
	binary.LittleEndian.PutUint32(raw[22:26], oggCRC(raw))
	buf.Write(raw)
}

// DemuxClip extracts the Opus frames from an Ogg Opus file produced by
// Mux (or any single-stream Ogg Opus file). The OpusHead and OpusTags
// packets are validated and discarded.
func DemuxClip(data []byte) ([][]byte, error) {
	var packets [][]byte
	var partial []byte
	offset := 0

	for offset < len(data) {
		if len(data)-offset < 27 {
			return nil, fmt.Errorf("audio: demux: truncated page header")
		}
		header := data[offset:]
		if string(header[:4]) != oggCapture {
			return nil, fmt.Errorf("audio: demux: bad capture pattern at %d", offset)
		}
		if header[4] != 0 {
			return nil, fmt.Errorf("audio: demux: unsupported ogg version %d", header[4])
		}

		segCount := int(header[26])
		if len(data)-offset < 27+segCount {
			return nil, fmt.Errorf("audio: demux: truncated segment table")
		}
		lacing := header[27 : 27+segCount]

		bodyLen := 0
		for _, l := range lacing {
			bodyLen += int(l)
		}
		pageLen := 27 + segCount + bodyLen
		if len(data)-offset < pageLen {
			return nil, fmt.Errorf("audio: demux: truncated page body")
		}

		page := data[offset : offset+pageLen]
		wantCRC := binary.LittleEndian.Uint32(page[22:26])
		scratch := make([]byte, pageLen)
		copy(scratch, page)
		binary.LittleEndian.PutUint32(scratch[22:26], 0)
		if got := oggCRC(scratch); got != wantCRC {
			return nil, fmt.Errorf("audio: demux: page %d checksum mismatch", binary.LittleEndian.Uint32(page[18:22]))
		}

		body := page[27+segCount:]
		pos := 0
		for _, l := range lacing {
			partial = append(partial, body[pos:pos+int(l)]...)
			pos += int(l)
			if l < 255 {
				packets = append(packets, partial)
				partial = nil
			}
		}

		offset += pageLen
	}
	if len(partial) != 0 {
		return nil, fmt.Errorf("audio: demux: unterminated packet")
	}

	if len(packets) < 2 {
		return nil, fmt.Errorf("audio: demux: missing headers")
	}
	if !bytes.HasPrefix(packets[0], []byte("OpusHead")) {
		return nil, fmt.Errorf("audio: demux: not an opus stream")
	}
	if !bytes.HasPrefix(packets[1], []byte("OpusTags")) {
		return nil, fmt.Errorf("audio: demux: missing comment header")
	}
	return packets[2:], nil
}

// Package descriptor holds the wire and on-disk shapes of torrent-descriptor
// segments and file-manifest segments, bencoded for storage and transfer.
package descriptor

import (
	"bytes"
	"fmt"

	bencode "github.com/jackpal/bencode-go"
	enc "github.com/named-data/ndnd/std/encoding"

	"github.com/AkshayRaman/nTorrent/internal/errors"
)

// TorrentSegment is one segment of the torrent descriptor: the list of
// manifest names (first-segment names) covered by this segment.
type TorrentSegment struct {
	SegmentIndex  uint64
	Final         bool // set on the last segment of the descriptor
	ManifestNames []enc.Name
}

// ManifestSegment is one segment of a file manifest: the data packet names of
// one sub-range of the file.
type ManifestSegment struct {
	SegmentIndex uint64
	FileBase     enc.Name // base name shared by every segment and packet of the file
	PacketSize   int64
	FirstPacket  uint64 // index of the first packet named by this segment
	Final        bool   // set on the last segment; fixes the total packet count
	PacketNames  []enc.Name
}

type torrentSegmentWire struct {
	Segment   int64    `bencode:"segment"`
	Final     int64    `bencode:"final"`
	Manifests []string `bencode:"manifests"`
}

type manifestSegmentWire struct {
	Segment     int64    `bencode:"segment"`
	File        string   `bencode:"file"`
	PacketSize  int64    `bencode:"packetSize"`
	FirstPacket int64    `bencode:"firstPacket"`
	Final       int64    `bencode:"final"`
	Packets     []string `bencode:"packets"`
}

// ParseTorrentSegment decodes a torrent-descriptor segment, failing with a
// MalformedDescriptor error on any structural defect.
func ParseTorrentSegment(b []byte) (*TorrentSegment, error) {
	var w torrentSegmentWire

	if err := bencode.Unmarshal(bytes.NewReader(b), &w); err != nil {
		return nil, malformed(fmt.Errorf("%w: %v", errors.ErrMalformedDescriptor, err))
	}

	if w.Segment < 0 || len(w.Manifests) == 0 {
		return nil, malformed(fmt.Errorf("%w: empty manifest list", errors.ErrMalformedDescriptor))
	}

	seg := &TorrentSegment{
		SegmentIndex:  uint64(w.Segment),
		Final:         w.Final != 0,
		ManifestNames: make([]enc.Name, 0, len(w.Manifests)),
	}

	for _, s := range w.Manifests {
		n, err := enc.NameFromStr(s)
		if err != nil || len(n) == 0 {
			return nil, malformed(fmt.Errorf("%w: bad manifest name %q", errors.ErrMalformedDescriptor, s))
		}

		seg.ManifestNames = append(seg.ManifestNames, n)
	}

	return seg, nil
}

// ParseManifestSegment decodes a file-manifest segment, failing with a
// MalformedDescriptor error on any structural defect.
func ParseManifestSegment(b []byte) (*ManifestSegment, error) {
	var w manifestSegmentWire

	if err := bencode.Unmarshal(bytes.NewReader(b), &w); err != nil {
		return nil, malformed(fmt.Errorf("%w: %v", errors.ErrMalformedDescriptor, err))
	}

	if w.Segment < 0 || w.FirstPacket < 0 {
		return nil, malformed(fmt.Errorf("%w: negative index", errors.ErrMalformedDescriptor))
	}

	if w.PacketSize <= 0 {
		return nil, malformed(fmt.Errorf("%w: packet size %d", errors.ErrMalformedDescriptor, w.PacketSize))
	}

	if len(w.Packets) == 0 {
		return nil, malformed(fmt.Errorf("%w: empty packet list", errors.ErrMalformedDescriptor))
	}

	fileBase, err := enc.NameFromStr(w.File)
	if err != nil || len(fileBase) == 0 {
		return nil, malformed(fmt.Errorf("%w: bad file base %q", errors.ErrMalformedDescriptor, w.File))
	}

	seg := &ManifestSegment{
		SegmentIndex: uint64(w.Segment),
		FileBase:     fileBase,
		PacketSize:   w.PacketSize,
		FirstPacket:  uint64(w.FirstPacket),
		Final:        w.Final != 0,
		PacketNames:  make([]enc.Name, 0, len(w.Packets)),
	}

	for _, s := range w.Packets {
		n, err := enc.NameFromStr(s)
		if err != nil || len(n) == 0 {
			return nil, malformed(fmt.Errorf("%w: bad packet name %q", errors.ErrMalformedDescriptor, s))
		}

		seg.PacketNames = append(seg.PacketNames, n)
	}

	return seg, nil
}

// EncodeTorrentSegment bencodes a torrent-descriptor segment.
func EncodeTorrentSegment(seg *TorrentSegment) ([]byte, error) {
	w := torrentSegmentWire{
		Segment:   int64(seg.SegmentIndex),
		Final:     boolToInt(seg.Final),
		Manifests: namesToStrings(seg.ManifestNames),
	}

	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, w); err != nil {
		return nil, errors.NewDescriptorError(err, "")
	}

	return buf.Bytes(), nil
}

// EncodeManifestSegment bencodes a file-manifest segment.
func EncodeManifestSegment(seg *ManifestSegment) ([]byte, error) {
	w := manifestSegmentWire{
		Segment:     int64(seg.SegmentIndex),
		File:        seg.FileBase.String(),
		PacketSize:  seg.PacketSize,
		FirstPacket: int64(seg.FirstPacket),
		Final:       boolToInt(seg.Final),
		Packets:     namesToStrings(seg.PacketNames),
	}

	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, w); err != nil {
		return nil, errors.NewDescriptorError(err, seg.FileBase.String())
	}

	return buf.Bytes(), nil
}

func malformed(err error) error {
	return errors.NewDescriptorError(err, "")
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}

	return 0
}

func namesToStrings(names []enc.Name) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, n.String())
	}

	return out
}

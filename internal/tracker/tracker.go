// Package tracker is the single source of truth for what content is held and
// what is still missing, at torrent, manifest, and packet granularity. It
// owns the backing file and completion bitmap of every manifest and commits
// received bytes to disk before accounting for them.
//
// The tracker is mutated only from the manager's event loop, so it carries no
// locking.
package tracker

import (
	"fmt"
	"os"

	bitmap "github.com/boljen/go-bitmap"
	enc "github.com/named-data/ndnd/std/encoding"

	"github.com/AkshayRaman/nTorrent/internal/descriptor"
	"github.com/AkshayRaman/nTorrent/internal/errors"
	"github.com/AkshayRaman/nTorrent/internal/logger"
	"github.com/AkshayRaman/nTorrent/internal/name"
)

// fileState is the per-manifest record: one exclusively-owned backing file
// and one bit per data packet, set once that packet's bytes are durably on
// disk. The bitmap starts at a provisional size and grows (never shrinks) as
// manifest segments arrive.
type fileState struct {
	fileBase enc.Name
	rel      string // on-disk path relative to the data directory

	segments     map[uint64]*descriptor.ManifestSegment
	haveFinal    bool
	finalSegment uint64

	packetSize  int64
	packetNames []enc.Name // indexed by packet index; nil until named
	total       int        // valid once haveFinal

	file     *os.File
	bits     bitmap.Bitmap
	received int
}

// grow resizes packetNames and the bitmap to hold at least n packets,
// preserving already-set bits at unchanged indices.
func (fs *fileState) grow(n int) {
	if n <= len(fs.packetNames) {
		return
	}

	names := make([]enc.Name, n)
	copy(names, fs.packetNames)
	fs.packetNames = names

	bits := bitmap.New(n)
	copy(bits, fs.bits)
	fs.bits = bits
}

// complete reports whether every packet of a fully-described manifest is
// held.
func (fs *fileState) complete() bool {
	return fs.haveFinal && fs.received == fs.total
}

// manifestComplete reports whether every manifest segment is held.
func (fs *fileState) manifestComplete() bool {
	if !fs.haveFinal {
		return false
	}

	for j := uint64(0); j <= fs.finalSegment; j++ {
		if _, ok := fs.segments[j]; !ok {
			return false
		}
	}

	return true
}

// Tracker reconciles received content against on-disk completion state for
// one torrent.
type Tracker struct {
	base    enc.Name
	dataDir string

	torrentSegments  map[uint64]*descriptor.TorrentSegment
	haveFinalTorrent bool
	finalTorrent     uint64

	files     map[string]*fileState
	fileOrder []string // descriptor order
}

func New(base enc.Name, dataDir string) *Tracker {
	return &Tracker{
		base:            base.Clone(),
		dataDir:         dataDir,
		torrentSegments: make(map[uint64]*descriptor.TorrentSegment),
		files:           make(map[string]*fileState),
	}
}

// BaseName returns the torrent base name this tracker serves.
func (t *Tracker) BaseName() enc.Name {
	return t.base
}

// MissingTorrentSegment returns the name of the next torrent-descriptor
// segment not yet held, sequentially, or nil if the descriptor is complete.
func (t *Tracker) MissingTorrentSegment() enc.Name {
	for i := uint64(0); ; i++ {
		if t.haveFinalTorrent && i > t.finalTorrent {
			return nil
		}

		if _, ok := t.torrentSegments[i]; !ok {
			return name.TorrentSegmentName(t.base, i)
		}
	}
}

// HasAllTorrentSegments reports whether the torrent descriptor is complete.
func (t *Tracker) HasAllTorrentSegments() bool {
	return t.MissingTorrentSegment() == nil
}

// MissingManifestSegment returns the next manifest segment to download for
// the file addressed by manifestName, regardless of which segment of the
// manifest was passed in, or nil if the manifest is complete.
func (t *Tracker) MissingManifestSegment(manifestName enc.Name) (enc.Name, error) {
	fs, err := t.resolve(manifestName)
	if err != nil {
		return nil, err
	}

	return t.missingSegmentOf(fs), nil
}

func (t *Tracker) missingSegmentOf(fs *fileState) enc.Name {
	for j := uint64(0); ; j++ {
		if fs.haveFinal && j > fs.finalSegment {
			return nil
		}

		if _, ok := fs.segments[j]; !ok {
			return name.ManifestSegmentName(fs.fileBase, j)
		}
	}
}

// MissingManifests returns, in descriptor order, the name of the first
// missing segment of every manifest referenced by held torrent segments that
// is not yet fully held.
func (t *Tracker) MissingManifests() []enc.Name {
	var out []enc.Name

	for _, key := range t.fileOrder {
		fs := t.files[key]
		if n := t.missingSegmentOf(fs); n != nil {
			out = append(out, n)
		}
	}

	return out
}

// MissingDataPackets returns every missing packet name of the file addressed
// by manifestName, in packet order.
func (t *Tracker) MissingDataPackets(manifestName enc.Name) ([]enc.Name, error) {
	fs, err := t.resolve(manifestName)
	if err != nil {
		return nil, err
	}

	return t.missingPacketsOf(fs), nil
}

func (t *Tracker) missingPacketsOf(fs *fileState) []enc.Name {
	var out []enc.Name

	for i, pn := range fs.packetNames {
		if pn != nil && !fs.bits.Get(i) {
			out = append(out, pn)
		}
	}

	return out
}

// MissingAllDataPackets returns every known missing packet across all
// manifests, manifest order then packet order.
func (t *Tracker) MissingAllDataPackets() []enc.Name {
	var out []enc.Name

	for _, key := range t.fileOrder {
		out = append(out, t.missingPacketsOf(t.files[key])...)
	}

	return out
}

// HasDataPacket reports whether the packet's bytes are durably on disk.
func (t *Tracker) HasDataPacket(packetName enc.Name) bool {
	fs, err := t.resolve(packetName)
	if err != nil {
		return false
	}

	idx, err := name.SegmentIndex(packetName)
	if err != nil || idx >= uint64(len(fs.packetNames)) {
		return false
	}

	return fs.bits.Get(int(idx))
}

// Complete reports whether the descriptor, every manifest, and every packet
// are held.
func (t *Tracker) Complete() bool {
	if !t.HasAllTorrentSegments() {
		return false
	}

	for _, fs := range t.files {
		if !fs.manifestComplete() || !fs.complete() {
			return false
		}
	}

	return true
}

// resolve maps any manifest segment or data packet name to its file record.
func (t *Tracker) resolve(n enc.Name) (*fileState, error) {
	fb, err := name.FileBase(n)
	if err != nil {
		return nil, err
	}

	fs, ok := t.files[fb.String()]
	if !ok {
		return nil, errors.NewResourceError(errors.ErrUnknownSegment, n.String())
	}

	return fs, nil
}

// MarkReceived classifies by the tagged kind computed at request time,
// commits payload to disk, and updates completion state. It returns the
// newly-known children that are still missing: manifest names for a torrent
// segment, packet names for a manifest segment, nothing for a data packet.
//
// A completion bit is set if and only if the write succeeded; bits are never
// cleared.
func (t *Tracker) MarkReceived(n enc.Name, k name.Kind, payload []byte) ([]enc.Name, error) {
	switch k {
	case name.KindTorrentSegment:
		return t.receiveTorrentSegment(n, payload)
	case name.KindManifestSegment:
		return t.receiveManifestSegment(n, payload)
	case name.KindDataPacket:
		return nil, t.receiveDataPacket(n, payload)
	default:
		return nil, errors.NewResourceError(errors.ErrUnknownSegment, n.String())
	}
}

func (t *Tracker) receiveTorrentSegment(n enc.Name, payload []byte) ([]enc.Name, error) {
	idx, err := name.SegmentIndex(n)
	if err != nil {
		return nil, err
	}

	if _, ok := t.torrentSegments[idx]; ok {
		return nil, nil
	}

	seg, err := descriptor.ParseTorrentSegment(payload)
	if err != nil {
		return nil, err
	}

	if seg.SegmentIndex != idx {
		return nil, errors.NewDescriptorError(
			fmt.Errorf("%w: segment index %d under name %s", errors.ErrMalformedDescriptor, seg.SegmentIndex, n.String()), n.String())
	}

	if err := t.writeTorrentSegment(idx, payload); err != nil {
		return nil, err
	}

	t.addTorrentSegment(seg)

	var discovered []enc.Name

	for _, mn := range seg.ManifestNames {
		fs, err := t.resolve(mn)
		if err != nil {
			continue
		}

		segIdx, err := name.SegmentIndex(mn)
		if err != nil {
			continue
		}

		if _, held := fs.segments[segIdx]; !held {
			discovered = append(discovered, mn)
		}
	}

	return discovered, nil
}

// addTorrentSegment records a parsed descriptor segment and creates file
// records for newly-referenced manifests.
func (t *Tracker) addTorrentSegment(seg *descriptor.TorrentSegment) {
	t.torrentSegments[seg.SegmentIndex] = seg

	if seg.Final {
		t.haveFinalTorrent = true
		t.finalTorrent = seg.SegmentIndex
	}

	for _, mn := range seg.ManifestNames {
		fb, err := name.FileBase(mn)
		if err != nil {
			logger.Warnf("torrent segment %d references unusable manifest name %s", seg.SegmentIndex, mn.String())
			continue
		}

		t.ensureFileState(fb)
	}
}

func (t *Tracker) ensureFileState(fileBase enc.Name) *fileState {
	key := fileBase.String()
	if fs, ok := t.files[key]; ok {
		return fs
	}

	fs := &fileState{
		fileBase: fileBase.Clone(),
		rel:      t.relPath(fileBase),
		segments: make(map[uint64]*descriptor.ManifestSegment),
		bits:     bitmap.New(0),
	}
	t.files[key] = fs
	t.fileOrder = append(t.fileOrder, key)

	return fs
}

func (t *Tracker) receiveManifestSegment(n enc.Name, payload []byte) ([]enc.Name, error) {
	fs, err := t.resolve(n)
	if err != nil {
		return nil, err
	}

	idx, err := name.SegmentIndex(n)
	if err != nil {
		return nil, err
	}

	if _, ok := fs.segments[idx]; ok {
		return nil, nil
	}

	seg, err := descriptor.ParseManifestSegment(payload)
	if err != nil {
		return nil, err
	}

	if !seg.FileBase.Equal(fs.fileBase) || seg.SegmentIndex != idx {
		return nil, errors.NewDescriptorError(
			fmt.Errorf("%w: manifest body disagrees with its name", errors.ErrMalformedDescriptor), n.String())
	}

	if fs.packetSize != 0 && seg.PacketSize != fs.packetSize {
		return nil, errors.NewDescriptorError(
			fmt.Errorf("%w: packet size changed from %d to %d", errors.ErrMalformedDescriptor, fs.packetSize, seg.PacketSize), n.String())
	}

	if err := t.writeManifestSegment(fs, idx, payload); err != nil {
		return nil, err
	}

	t.addManifestSegment(fs, seg)

	var discovered []enc.Name

	for i := range seg.PacketNames {
		pi := int(seg.FirstPacket) + i
		if !fs.bits.Get(pi) {
			discovered = append(discovered, fs.packetNames[pi])
		}
	}

	return discovered, nil
}

// addManifestSegment integrates a parsed manifest segment, growing the
// provisional bitmap as the described packet range extends.
func (t *Tracker) addManifestSegment(fs *fileState, seg *descriptor.ManifestSegment) {
	fs.segments[seg.SegmentIndex] = seg
	fs.packetSize = seg.PacketSize

	fs.grow(int(seg.FirstPacket) + len(seg.PacketNames))

	for i, pn := range seg.PacketNames {
		fs.packetNames[int(seg.FirstPacket)+i] = pn
	}

	if seg.Final {
		fs.haveFinal = true
		fs.finalSegment = seg.SegmentIndex
		fs.total = int(seg.FirstPacket) + len(seg.PacketNames)
	}
}

func (t *Tracker) receiveDataPacket(n enc.Name, payload []byte) error {
	fs, err := t.resolve(n)
	if err != nil {
		return err
	}

	idx, err := name.SegmentIndex(n)
	if err != nil {
		return err
	}

	if idx >= uint64(len(fs.packetNames)) || fs.packetNames[int(idx)] == nil {
		return errors.NewResourceError(errors.ErrUnknownSegment, n.String())
	}

	if fs.bits.Get(int(idx)) {
		return nil
	}

	if err := t.writeDataPacket(fs, int(idx), payload); err != nil {
		return err
	}

	fs.bits.Set(int(idx), true)
	fs.received++

	return nil
}

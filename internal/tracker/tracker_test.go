package tracker_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	enc "github.com/named-data/ndnd/std/encoding"

	"github.com/AkshayRaman/nTorrent/internal/descriptor"
	"github.com/AkshayRaman/nTorrent/internal/errors"
	"github.com/AkshayRaman/nTorrent/internal/name"
	"github.com/AkshayRaman/nTorrent/internal/tracker"
)

func mustName(t *testing.T, s string) enc.Name {
	t.Helper()

	n, err := enc.NameFromStr(s)
	require.NoError(t, err)

	return n
}

// fixture is a one-file torrent: base /t, file /t/alpha, three packets of
// four bytes with a short final packet.
type fixture struct {
	base     enc.Name
	fileBase enc.Name

	torrentSeg  []byte
	manifestSeg []byte
	packets     [][]byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		base:     mustName(t, "/t"),
		fileBase: mustName(t, "/t/alpha"),
		packets:  [][]byte{[]byte("aaaa"), []byte("bbbb"), []byte("cc")},
	}

	packetNames := make([]enc.Name, len(f.packets))
	for i := range f.packets {
		packetNames[i] = name.DataPacketName(f.fileBase, uint64(i))
	}

	var err error

	f.manifestSeg, err = descriptor.EncodeManifestSegment(&descriptor.ManifestSegment{
		SegmentIndex: 0,
		FileBase:     f.fileBase,
		PacketSize:   4,
		FirstPacket:  0,
		Final:        true,
		PacketNames:  packetNames,
	})
	require.NoError(t, err)

	f.torrentSeg, err = descriptor.EncodeTorrentSegment(&descriptor.TorrentSegment{
		SegmentIndex:  0,
		Final:         true,
		ManifestNames: []enc.Name{name.ManifestSegmentName(f.fileBase, 0)},
	})
	require.NoError(t, err)

	return f
}

// load feeds the fixture's descriptor and manifest into a fresh tracker.
func (f *fixture) load(t *testing.T, tr *tracker.Tracker) {
	t.Helper()

	_, err := tr.MarkReceived(name.TorrentSegmentName(f.base, 0), name.KindTorrentSegment, f.torrentSeg)
	require.NoError(t, err)

	_, err = tr.MarkReceived(name.ManifestSegmentName(f.fileBase, 0), name.KindManifestSegment, f.manifestSeg)
	require.NoError(t, err)
}

func TestMissingTorrentSegmentSequence(t *testing.T) {
	f := newFixture(t)
	tr := tracker.New(f.base, t.TempDir())
	defer tr.Close()

	missing := tr.MissingTorrentSegment()
	require.NotNil(t, missing)
	assert.True(t, missing.Equal(name.TorrentSegmentName(f.base, 0)))
	assert.False(t, tr.HasAllTorrentSegments())

	_, err := tr.MarkReceived(missing, name.KindTorrentSegment, f.torrentSeg)
	require.NoError(t, err)

	assert.Nil(t, tr.MissingTorrentSegment())
	assert.True(t, tr.HasAllTorrentSegments())
}

func TestTorrentSegmentDiscoversManifests(t *testing.T) {
	f := newFixture(t)
	tr := tracker.New(f.base, t.TempDir())
	defer tr.Close()

	discovered, err := tr.MarkReceived(name.TorrentSegmentName(f.base, 0), name.KindTorrentSegment, f.torrentSeg)
	require.NoError(t, err)

	require.Len(t, discovered, 1)
	assert.True(t, discovered[0].Equal(name.ManifestSegmentName(f.fileBase, 0)))
}

func TestManifestSegmentDiscoversPackets(t *testing.T) {
	f := newFixture(t)
	tr := tracker.New(f.base, t.TempDir())
	defer tr.Close()

	_, err := tr.MarkReceived(name.TorrentSegmentName(f.base, 0), name.KindTorrentSegment, f.torrentSeg)
	require.NoError(t, err)

	discovered, err := tr.MarkReceived(name.ManifestSegmentName(f.fileBase, 0), name.KindManifestSegment, f.manifestSeg)
	require.NoError(t, err)

	require.Len(t, discovered, 3)

	for i, n := range discovered {
		assert.True(t, n.Equal(name.DataPacketName(f.fileBase, uint64(i))))
	}
}

func TestDataPacketLifecycle(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	tr := tracker.New(f.base, dir)
	defer tr.Close()

	f.load(t, tr)
	assert.False(t, tr.Complete())

	for i, payload := range f.packets {
		pn := name.DataPacketName(f.fileBase, uint64(i))
		assert.False(t, tr.HasDataPacket(pn))

		_, err := tr.MarkReceived(pn, name.KindDataPacket, payload)
		require.NoError(t, err)
		assert.True(t, tr.HasDataPacket(pn))
	}

	assert.True(t, tr.Complete())
	assert.Empty(t, tr.MissingAllDataPackets())

	// The backing file holds the packets at their offsets.
	data, err := os.ReadFile(filepath.Join(dir, "files", "alpha"))
	require.NoError(t, err)
	assert.Equal(t, []byte("aaaabbbbcc"), data)
}

func TestMarkReceivedIsIdempotent(t *testing.T) {
	f := newFixture(t)
	tr := tracker.New(f.base, t.TempDir())
	defer tr.Close()

	f.load(t, tr)

	pn := name.DataPacketName(f.fileBase, 0)

	_, err := tr.MarkReceived(pn, name.KindDataPacket, f.packets[0])
	require.NoError(t, err)

	// A duplicate delivery of any kind must change nothing.
	_, err = tr.MarkReceived(pn, name.KindDataPacket, f.packets[0])
	require.NoError(t, err)

	discovered, err := tr.MarkReceived(name.ManifestSegmentName(f.fileBase, 0), name.KindManifestSegment, f.manifestSeg)
	require.NoError(t, err)
	assert.Empty(t, discovered)

	missing := tr.MissingAllDataPackets()
	assert.Len(t, missing, 2)
}

func TestUnknownSegmentRejected(t *testing.T) {
	f := newFixture(t)
	tr := tracker.New(f.base, t.TempDir())
	defer tr.Close()

	// No descriptor yet, so /t/alpha is not a known file.
	_, err := tr.MarkReceived(name.DataPacketName(f.fileBase, 0), name.KindDataPacket, []byte("aaaa"))
	assert.ErrorIs(t, err, errors.ErrUnknownSegment)

	f.load(t, tr)

	// Packet index beyond the manifest's range.
	_, err = tr.MarkReceived(name.DataPacketName(f.fileBase, 99), name.KindDataPacket, []byte("aaaa"))
	assert.ErrorIs(t, err, errors.ErrUnknownSegment)
}

func TestManifestBodyMustAgreeWithName(t *testing.T) {
	f := newFixture(t)
	tr := tracker.New(f.base, t.TempDir())
	defer tr.Close()

	_, err := tr.MarkReceived(name.TorrentSegmentName(f.base, 0), name.KindTorrentSegment, f.torrentSeg)
	require.NoError(t, err)

	// Body claims segment 0 but arrives under the segment-1 name.
	_, err = tr.MarkReceived(name.ManifestSegmentName(f.fileBase, 1), name.KindManifestSegment, f.manifestSeg)
	assert.ErrorIs(t, err, errors.ErrMalformedDescriptor)
}

func TestBitmapGrowthPreservesBits(t *testing.T) {
	base := mustName(t, "/t")
	fileBase := mustName(t, "/t/big")
	tr := tracker.New(base, t.TempDir())
	defer tr.Close()

	torrentSeg, err := descriptor.EncodeTorrentSegment(&descriptor.TorrentSegment{
		SegmentIndex:  0,
		Final:         true,
		ManifestNames: []enc.Name{name.ManifestSegmentName(fileBase, 0)},
	})
	require.NoError(t, err)

	_, err = tr.MarkReceived(name.TorrentSegmentName(base, 0), name.KindTorrentSegment, torrentSeg)
	require.NoError(t, err)

	segPayload := func(j, first uint64, count int, final bool) []byte {
		names := make([]enc.Name, count)
		for i := range names {
			names[i] = name.DataPacketName(fileBase, first+uint64(i))
		}

		p, err := descriptor.EncodeManifestSegment(&descriptor.ManifestSegment{
			SegmentIndex: j,
			FileBase:     fileBase,
			PacketSize:   4,
			FirstPacket:  first,
			Final:        final,
			PacketNames:  names,
		})
		require.NoError(t, err)

		return p
	}

	_, err = tr.MarkReceived(name.ManifestSegmentName(fileBase, 0), name.KindManifestSegment, segPayload(0, 0, 2, false))
	require.NoError(t, err)

	_, err = tr.MarkReceived(name.DataPacketName(fileBase, 0), name.KindDataPacket, []byte("aaaa"))
	require.NoError(t, err)

	// A later manifest segment extends the packet range; the held bit must
	// survive the growth.
	_, err = tr.MarkReceived(name.ManifestSegmentName(fileBase, 1), name.KindManifestSegment, segPayload(1, 2, 2, true))
	require.NoError(t, err)

	assert.True(t, tr.HasDataPacket(name.DataPacketName(fileBase, 0)))
	assert.Len(t, tr.MissingAllDataPackets(), 3)
}

func TestLookupServesHeldContent(t *testing.T) {
	f := newFixture(t)
	tr := tracker.New(f.base, t.TempDir())
	defer tr.Close()

	f.load(t, tr)

	_, err := tr.MarkReceived(name.DataPacketName(f.fileBase, 2), name.KindDataPacket, f.packets[2])
	require.NoError(t, err)

	payload, ok := tr.Lookup(name.TorrentSegmentName(f.base, 0))
	require.True(t, ok)
	assert.True(t, bytes.Equal(payload, f.torrentSeg))

	payload, ok = tr.Lookup(name.ManifestSegmentName(f.fileBase, 0))
	require.True(t, ok)
	assert.True(t, bytes.Equal(payload, f.manifestSeg))

	payload, ok = tr.Lookup(name.DataPacketName(f.fileBase, 2))
	require.True(t, ok)
	assert.Equal(t, []byte("cc"), payload)

	// Content not yet held is not served.
	_, ok = tr.Lookup(name.DataPacketName(f.fileBase, 0))
	assert.False(t, ok)

	_, ok = tr.Lookup(name.TorrentSegmentName(f.base, 1))
	assert.False(t, ok)

	_, ok = tr.Lookup(mustName(t, "/elsewhere/data/seg=0"))
	assert.False(t, ok)
}

func TestLoadFromDiskWarmRestart(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()

	first := tracker.New(f.base, dir)
	f.load(t, first)

	for i, payload := range f.packets {
		_, err := first.MarkReceived(name.DataPacketName(f.fileBase, uint64(i)), name.KindDataPacket, payload)
		require.NoError(t, err)
	}

	require.True(t, first.Complete())
	require.NoError(t, first.Close())

	second := tracker.New(f.base, dir)
	defer second.Close()

	require.NoError(t, second.LoadFromDisk())

	assert.True(t, second.HasAllTorrentSegments())
	assert.True(t, second.Complete())
	assert.Empty(t, second.MissingAllDataPackets())
}

func TestLoadFromDiskPartialFile(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()

	first := tracker.New(f.base, dir)
	f.load(t, first)

	// Hold packets 0 and 2 only.
	_, err := first.MarkReceived(name.DataPacketName(f.fileBase, 0), name.KindDataPacket, f.packets[0])
	require.NoError(t, err)

	_, err = first.MarkReceived(name.DataPacketName(f.fileBase, 2), name.KindDataPacket, f.packets[2])
	require.NoError(t, err)

	require.NoError(t, first.Close())

	second := tracker.New(f.base, dir)
	defer second.Close()

	require.NoError(t, second.LoadFromDisk())

	assert.True(t, second.HasDataPacket(name.DataPacketName(f.fileBase, 0)))
	assert.True(t, second.HasDataPacket(name.DataPacketName(f.fileBase, 2)))
}

func TestLoadFromDiskIgnoresCorruptSegments(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "torrent-file"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "torrent-file", "seg-0.bt"), []byte("not bencode"), 0o644))

	tr := tracker.New(f.base, dir)
	defer tr.Close()

	require.NoError(t, tr.LoadFromDisk(), "corrupt files count as missing, not as errors")
	assert.False(t, tr.HasAllTorrentSegments())

	missing := tr.MissingTorrentSegment()
	require.NotNil(t, missing)
	assert.True(t, missing.Equal(name.TorrentSegmentName(f.base, 0)))
}

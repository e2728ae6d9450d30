package tracker

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	enc "github.com/named-data/ndnd/std/encoding"

	"github.com/AkshayRaman/nTorrent/internal/descriptor"
	"github.com/AkshayRaman/nTorrent/internal/errors"
	"github.com/AkshayRaman/nTorrent/internal/logger"
	"github.com/AkshayRaman/nTorrent/internal/name"
)

// On-disk layout, rooted at the data directory:
//
//	torrent-file/seg-<i>.bt          bencoded descriptor segments
//	manifests/<file...>/seg-<j>.bt   bencoded manifest segments
//	files/<file...>                  packet payloads at index*packetSize
//
// Completion bitmaps are not persisted; they are rebuilt from the byte ranges
// present on disk at load time.

func (t *Tracker) torrentSegmentPath(i uint64) string {
	return filepath.Join(t.dataDir, "torrent-file", fmt.Sprintf("seg-%d.bt", i))
}

func (t *Tracker) manifestSegmentPath(fs *fileState, j uint64) string {
	return filepath.Join(t.dataDir, "manifests", fs.rel, fmt.Sprintf("seg-%d.bt", j))
}

func (t *Tracker) dataFilePath(fs *fileState) string {
	return filepath.Join(t.dataDir, "files", fs.rel)
}

// relPath derives the on-disk relative path of a file from its name
// components under the torrent base.
func (t *Tracker) relPath(fileBase enc.Name) string {
	parts, err := name.FileComponents(t.base, fileBase)
	if err != nil || len(parts) == 0 {
		// Foreign name; flatten the whole thing into one path element.
		return fileBase.String()
	}

	return filepath.Join(parts...)
}

func (t *Tracker) writeTorrentSegment(i uint64, payload []byte) error {
	return writeSegmentFile(t.torrentSegmentPath(i), payload)
}

func (t *Tracker) writeManifestSegment(fs *fileState, j uint64, payload []byte) error {
	return writeSegmentFile(t.manifestSegmentPath(fs, j), payload)
}

func writeSegmentFile(path string, payload []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewIOError(err, path)
	}

	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return errors.NewIOError(err, path)
	}

	return nil
}

// ensureFile opens the exclusively-owned backing file for a manifest.
func (t *Tracker) ensureFile(fs *fileState) error {
	if fs.file != nil {
		return nil
	}

	path := t.dataFilePath(fs)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewIOError(err, path)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return errors.NewIOError(err, path)
	}

	fs.file = f

	return nil
}

func (t *Tracker) writeDataPacket(fs *fileState, idx int, payload []byte) error {
	if err := t.ensureFile(fs); err != nil {
		return err
	}

	offset := int64(idx) * fs.packetSize
	if _, err := fs.file.WriteAt(payload, offset); err != nil {
		return errors.NewIOError(err, fs.packetNames[idx].String())
	}

	return nil
}

// readDataPacket reads a held packet back for the seed responder.
func (t *Tracker) readDataPacket(fs *fileState, idx int) ([]byte, error) {
	if err := t.ensureFile(fs); err != nil {
		return nil, err
	}

	buf := make([]byte, fs.packetSize)

	n, err := fs.file.ReadAt(buf, int64(idx)*fs.packetSize)
	if err != nil && err != io.EOF {
		return nil, errors.NewIOError(err, fs.packetNames[idx].String())
	}

	if n == 0 {
		return nil, errors.NewIOError(io.ErrUnexpectedEOF, fs.packetNames[idx].String())
	}

	return buf[:n], nil
}

// Lookup serves the seed responder: it returns the payload for any held
// torrent segment, manifest segment, or data packet whose bit is set.
func (t *Tracker) Lookup(n enc.Name) ([]byte, bool) {
	k, err := name.Classify(t.base, n)
	if err != nil {
		return nil, false
	}

	idx, err := name.SegmentIndex(n)
	if err != nil {
		return nil, false
	}

	switch k {
	case name.KindTorrentSegment:
		if _, ok := t.torrentSegments[idx]; !ok {
			return nil, false
		}

		payload, err := os.ReadFile(t.torrentSegmentPath(idx))
		if err != nil {
			return nil, false
		}

		return payload, true

	case name.KindManifestSegment:
		fs, err := t.resolve(n)
		if err != nil {
			return nil, false
		}

		if _, ok := fs.segments[idx]; !ok {
			return nil, false
		}

		payload, err := os.ReadFile(t.manifestSegmentPath(fs, idx))
		if err != nil {
			return nil, false
		}

		return payload, true

	case name.KindDataPacket:
		fs, err := t.resolve(n)
		if err != nil {
			return nil, false
		}

		if idx >= uint64(len(fs.packetNames)) || !fs.bits.Get(int(idx)) {
			return nil, false
		}

		payload, err := t.readDataPacket(fs, int(idx))
		if err != nil {
			return nil, false
		}

		return payload, true
	}

	return nil, false
}

// LoadFromDisk rebuilds tracker state from whatever the data directory
// already holds. Truncated or unparsable files count as missing and will be
// re-downloaded; they are not errors.
func (t *Tracker) LoadFromDisk() error {
	for i := uint64(0); ; i++ {
		payload, err := os.ReadFile(t.torrentSegmentPath(i))
		if err != nil {
			break
		}

		seg, err := descriptor.ParseTorrentSegment(payload)
		if err != nil {
			logger.Warnf("discarding unparsable torrent segment %d: %v", i, err)
			break
		}

		if seg.SegmentIndex != i {
			logger.Warnf("torrent segment file %d holds index %d, discarding", i, seg.SegmentIndex)
			break
		}

		t.addTorrentSegment(seg)
	}

	for _, key := range t.fileOrder {
		fs := t.files[key]
		t.loadManifest(fs)
		t.rebuildBitmap(fs)
	}

	return nil
}

func (t *Tracker) loadManifest(fs *fileState) {
	for j := uint64(0); ; j++ {
		payload, err := os.ReadFile(t.manifestSegmentPath(fs, j))
		if err != nil {
			return
		}

		seg, err := descriptor.ParseManifestSegment(payload)
		if err != nil || !seg.FileBase.Equal(fs.fileBase) || seg.SegmentIndex != j {
			logger.Warnf("discarding unparsable manifest segment %s/%d", fs.rel, j)
			return
		}

		if fs.packetSize != 0 && seg.PacketSize != fs.packetSize {
			logger.Warnf("manifest %s segment %d changes packet size, discarding", fs.rel, j)
			return
		}

		t.addManifestSegment(fs, seg)
	}
}

// rebuildBitmap treats complete on-disk byte ranges as present. The bitmap
// itself is never persisted.
func (t *Tracker) rebuildBitmap(fs *fileState) {
	if len(fs.packetNames) == 0 || fs.packetSize == 0 {
		return
	}

	info, err := os.Stat(t.dataFilePath(fs))
	if err != nil {
		return
	}

	size := info.Size()

	for i := range fs.packetNames {
		if fs.packetNames[i] == nil || fs.bits.Get(i) {
			continue
		}

		whole := int64(i+1)*fs.packetSize <= size
		lastShort := fs.haveFinal && i == fs.total-1 && size > int64(i)*fs.packetSize

		if whole || lastShort {
			fs.bits.Set(i, true)
			fs.received++
		}
	}
}

// Close releases every backing file handle.
func (t *Tracker) Close() error {
	var lastErr error

	for _, fs := range t.files {
		if fs.file != nil {
			if err := fs.file.Close(); err != nil {
				lastErr = err
			}

			fs.file = nil
		}
	}

	return lastErr
}

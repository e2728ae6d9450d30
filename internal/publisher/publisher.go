// Package publisher turns a directory of plain files into the on-disk layout
// a seeder serves: a segmented torrent descriptor, one segmented manifest per
// file, and the file bytes themselves.
package publisher

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	enc "github.com/named-data/ndnd/std/encoding"

	"github.com/AkshayRaman/nTorrent/internal/descriptor"
	"github.com/AkshayRaman/nTorrent/internal/errors"
	"github.com/AkshayRaman/nTorrent/internal/logger"
	"github.com/AkshayRaman/nTorrent/internal/name"
)

const (
	DefaultPacketSize          = 8192
	DefaultPacketsPerSegment   = 64
	DefaultManifestsPerSegment = 32
)

// Options controls how content is cut into packets and segments.
type Options struct {
	PacketSize          int64 // bytes per data packet
	PacketsPerSegment   int   // packet names per manifest segment
	ManifestsPerSegment int   // manifest names per torrent segment
}

func (o *Options) fillDefaults() {
	if o.PacketSize <= 0 {
		o.PacketSize = DefaultPacketSize
	}

	if o.PacketsPerSegment <= 0 {
		o.PacketsPerSegment = DefaultPacketsPerSegment
	}

	if o.ManifestsPerSegment <= 0 {
		o.ManifestsPerSegment = DefaultManifestsPerSegment
	}
}

// Generate walks srcDir and writes the complete publishable layout for base
// into dataDir. Empty files are skipped; they cannot be named packet by
// packet.
func Generate(base enc.Name, srcDir, dataDir string, opts Options) error {
	opts.fillDefaults()

	rels, err := sourceFiles(srcDir)
	if err != nil {
		return err
	}

	var manifestNames []enc.Name

	for _, rel := range rels {
		mn, err := publishFile(base, srcDir, dataDir, rel, opts)
		if err != nil {
			return err
		}

		if mn != nil {
			manifestNames = append(manifestNames, mn)
		}
	}

	if len(manifestNames) == 0 {
		return errors.NewResourceError(fmt.Errorf("no publishable files under %s", srcDir), base.String())
	}

	return writeTorrentSegments(base, dataDir, manifestNames, opts)
}

// sourceFiles lists regular files under srcDir, sorted by slash-separated
// relative path so the descriptor order is stable across platforms.
func sourceFiles(srcDir string) ([]string, error) {
	var rels []string

	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}

		rels = append(rels, filepath.ToSlash(rel))

		return nil
	})
	if err != nil {
		return nil, errors.NewIOError(err, srcDir)
	}

	sort.Strings(rels)

	return rels, nil
}

// fileBaseFor maps a slash-separated relative path to the file's base name
// under the torrent base, one generic component per path element.
func fileBaseFor(base enc.Name, rel string) enc.Name {
	parts := strings.Split(rel, "/")

	comps := make([]enc.Component, 0, len(parts))
	for _, p := range parts {
		comps = append(comps, enc.NewStringComponent(enc.TypeGenericNameComponent, p))
	}

	return base.Append(comps...)
}

// publishFile copies the file bytes into the layout and writes its manifest
// segments. It returns the name of manifest segment zero, or nil if the file
// was skipped.
func publishFile(base enc.Name, srcDir, dataDir, rel string, opts Options) (enc.Name, error) {
	src := filepath.Join(srcDir, filepath.FromSlash(rel))

	info, err := os.Stat(src)
	if err != nil {
		return nil, errors.NewIOError(err, src)
	}

	if info.Size() == 0 {
		logger.Warnf("skipping empty file %s", rel)
		return nil, nil
	}

	dst := filepath.Join(dataDir, "files", filepath.FromSlash(rel))
	if err := copyFile(src, dst); err != nil {
		return nil, err
	}

	fileBase := fileBaseFor(base, rel)

	totalPackets := int((info.Size() + opts.PacketSize - 1) / opts.PacketSize)

	packetNames := make([]enc.Name, totalPackets)
	for i := range packetNames {
		packetNames[i] = name.DataPacketName(fileBase, uint64(i))
	}

	for j, first := 0, 0; first < totalPackets; j, first = j+1, first+opts.PacketsPerSegment {
		end := first + opts.PacketsPerSegment
		if end > totalPackets {
			end = totalPackets
		}

		seg := &descriptor.ManifestSegment{
			SegmentIndex: uint64(j),
			FileBase:     fileBase,
			PacketSize:   opts.PacketSize,
			FirstPacket:  uint64(first),
			Final:        end == totalPackets,
			PacketNames:  packetNames[first:end],
		}

		payload, err := descriptor.EncodeManifestSegment(seg)
		if err != nil {
			return nil, err
		}

		segPath := filepath.Join(dataDir, "manifests", filepath.FromSlash(rel), fmt.Sprintf("seg-%d.bt", j))
		if err := writeFile(segPath, payload); err != nil {
			return nil, err
		}
	}

	return name.ManifestSegmentName(fileBase, 0), nil
}

func writeTorrentSegments(base enc.Name, dataDir string, manifestNames []enc.Name, opts Options) error {
	for i, first := 0, 0; first < len(manifestNames); i, first = i+1, first+opts.ManifestsPerSegment {
		end := first + opts.ManifestsPerSegment
		if end > len(manifestNames) {
			end = len(manifestNames)
		}

		seg := &descriptor.TorrentSegment{
			SegmentIndex:  uint64(i),
			Final:         end == len(manifestNames),
			ManifestNames: manifestNames[first:end],
		}

		payload, err := descriptor.EncodeTorrentSegment(seg)
		if err != nil {
			return err
		}

		segPath := filepath.Join(dataDir, "torrent-file", fmt.Sprintf("seg-%d.bt", i))
		if err := writeFile(segPath, payload); err != nil {
			return err
		}
	}

	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.NewIOError(err, src)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.NewIOError(err, dst)
	}

	out, err := os.Create(dst)
	if err != nil {
		return errors.NewIOError(err, dst)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.NewIOError(err, dst)
	}

	if err := out.Close(); err != nil {
		return errors.NewIOError(err, dst)
	}

	return nil
}

func writeFile(path string, payload []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewIOError(err, path)
	}

	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return errors.NewIOError(err, path)
	}

	return nil
}

// Package name defines the naming scheme for torrent descriptors, file
// manifests, and data packets, and the tagged classification of received
// names.
//
// For a torrent rooted at base B the scheme is:
//
//	B/torrent-file/seg=<i>          torrent-descriptor segment i
//	B/<file...>/manifest/seg=<j>    manifest segment j of one file
//	B/<file...>/data/seg=<k>        data packet k of the same file
//
// Any manifest segment name or data packet name of one file reduces to the
// same file base B/<file...>.
package name

import (
	"fmt"

	enc "github.com/named-data/ndnd/std/encoding"

	"github.com/AkshayRaman/nTorrent/internal/errors"
)

// Kind is the structural classification of a content name. It is computed
// once when a request is built and carried with the pending request, so the
// response path never re-parses the name.
type Kind int

const (
	KindUnknown Kind = iota
	KindTorrentSegment
	KindManifestSegment
	KindDataPacket
)

func (k Kind) String() string {
	switch k {
	case KindTorrentSegment:
		return "torrent segment"
	case KindManifestSegment:
		return "manifest segment"
	case KindDataPacket:
		return "data packet"
	default:
		return "unknown"
	}
}

var (
	compTorrentFile = enc.NewStringComponent(enc.TypeGenericNameComponent, "torrent-file")
	compManifest    = enc.NewStringComponent(enc.TypeGenericNameComponent, "manifest")
	compData        = enc.NewStringComponent(enc.TypeGenericNameComponent, "data")
)

// TorrentSegmentName returns the name of torrent-descriptor segment i.
func TorrentSegmentName(base enc.Name, i uint64) enc.Name {
	return base.Append(compTorrentFile, enc.NewSegmentComponent(i))
}

// ManifestSegmentName returns the name of manifest segment j for the file
// rooted at fileBase.
func ManifestSegmentName(fileBase enc.Name, j uint64) enc.Name {
	return fileBase.Append(compManifest, enc.NewSegmentComponent(j))
}

// DataPacketName returns the name of data packet k for the file rooted at
// fileBase.
func DataPacketName(fileBase enc.Name, k uint64) enc.Name {
	return fileBase.Append(compData, enc.NewSegmentComponent(k))
}

// Classify structurally matches n against the torrent base name.
func Classify(base, n enc.Name) (Kind, error) {
	if !base.IsPrefix(n) || len(n) < len(base)+2 {
		return KindUnknown, errors.NewResourceError(errors.ErrUnknownSegment, n.String())
	}

	last := n[len(n)-1]
	if last.Typ != enc.TypeSegmentNameComponent {
		return KindUnknown, errors.NewResourceError(errors.ErrUnknownSegment, n.String())
	}

	if n[len(base)].Equal(compTorrentFile) {
		if len(n) != len(base)+2 {
			return KindUnknown, errors.NewResourceError(errors.ErrUnknownSegment, n.String())
		}

		return KindTorrentSegment, nil
	}

	// Manifest and packet names carry at least one file component between
	// the base and the marker.
	if len(n) < len(base)+3 {
		return KindUnknown, errors.NewResourceError(errors.ErrUnknownSegment, n.String())
	}

	switch marker := n[len(n)-2]; {
	case marker.Equal(compManifest):
		return KindManifestSegment, nil
	case marker.Equal(compData):
		return KindDataPacket, nil
	default:
		return KindUnknown, errors.NewResourceError(errors.ErrUnknownSegment, n.String())
	}
}

// FileBase strips the trailing marker and segment components from a manifest
// segment or data packet name, so every name of one file resolves to the same
// record.
func FileBase(n enc.Name) (enc.Name, error) {
	if len(n) < 3 {
		return nil, errors.NewResourceError(errors.ErrUnknownSegment, n.String())
	}

	marker := n[len(n)-2]
	if !marker.Equal(compManifest) && !marker.Equal(compData) {
		return nil, errors.NewResourceError(errors.ErrUnknownSegment, n.String())
	}

	return n[:len(n)-2].Clone(), nil
}

// SegmentIndex returns the numeric value of the trailing segment component.
func SegmentIndex(n enc.Name) (uint64, error) {
	if len(n) == 0 {
		return 0, errors.NewResourceError(errors.ErrUnknownSegment, n.String())
	}

	last := n[len(n)-1]
	if last.Typ != enc.TypeSegmentNameComponent {
		return 0, errors.NewResourceError(fmt.Errorf("%w: no trailing segment component", errors.ErrUnknownSegment), n.String())
	}

	return last.NumberVal(), nil
}

// FileComponents returns the per-file name components between the torrent
// base and the marker component, for deriving on-disk paths.
func FileComponents(base, fileBase enc.Name) ([]string, error) {
	if !base.IsPrefix(fileBase) || len(fileBase) <= len(base) {
		return nil, errors.NewResourceError(errors.ErrUnknownSegment, fileBase.String())
	}

	parts := make([]string, 0, len(fileBase)-len(base))
	for _, c := range fileBase[len(base):] {
		parts = append(parts, c.String())
	}

	return parts, nil
}

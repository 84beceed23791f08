package geometry

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/ajitpratap0/gpkgsink/pkg/pool"
	"github.com/ajitpratap0/gpkgsink/pkg/sinkerrors"
)

// ErrEmptyGeometry is returned when the referenced ranges hold no polygon.
// Callers drop such records silently.
var ErrEmptyGeometry = errors.New("geometry is empty")

// GeoPackage binary header constants.
const (
	gpMagic0  = 'G'
	gpMagic1  = 'P'
	gpVersion = 0
	// little endian, envelope [minx, maxx, miny, maxy, minz, maxz]
	gpFlagsXYZEnvelope = 0x01 | (2 << 1)
	gpHeaderLen        = 8
	gpEnvelopeLen      = 6 * 8
)

// Encoded is the result of encoding one entity's geometry.
type Encoded struct {
	Blob     []byte
	Bbox     Bbox
	Polygons int
}

// Encode collects every polygon referenced by refs into one XYZ
// multipolygon and serializes it as a GeoPackage geometry blob.
//
// Curve and point references make the whole entity unencodable and yield
// an ErrorTypeUnsupportedGeometry error. ErrEmptyGeometry is returned when
// nothing was referenced.
func Encode(refs []Ref, src Source, srsID int32) (*Encoded, error) {
	vertices := src.Vertices()
	pool := src.Polygons()

	mp := geom.NewMultiPolygon(geom.XYZ)
	bbox := EmptyBbox()

	for _, ref := range refs {
		if !ref.Type.IsAreal() {
			return nil, sinkerrors.Newf(sinkerrors.ErrorTypeUnsupportedGeometry,
				"%s geometries cannot be written as polygons", ref.Type).
				WithDetail("ref", ref.String())
		}

		end := uint64(ref.Pos) + uint64(ref.Len)
		if end > uint64(len(pool)) {
			return nil, sinkerrors.New(sinkerrors.ErrorTypeEncoding, "geometry range exceeds polygon pool").
				WithDetail("ref", ref.String()).
				WithDetail("pool_size", len(pool))
		}

		for _, rings := range pool[ref.Pos:end] {
			poly, err := buildPolygon(rings, vertices, &bbox)
			if err != nil {
				return nil, err
			}
			if poly == nil {
				continue
			}
			if err := mp.Push(poly); err != nil {
				return nil, sinkerrors.Wrap(err, sinkerrors.ErrorTypeEncoding, "failed to add polygon")
			}
		}
	}

	if mp.NumPolygons() == 0 {
		return nil, ErrEmptyGeometry
	}

	blob, err := marshalBlob(mp, bbox, srsID)
	if err != nil {
		return nil, err
	}

	return &Encoded{Blob: blob, Bbox: bbox, Polygons: mp.NumPolygons()}, nil
}

// buildPolygon resolves vertex indices into flat XYZ coordinates, closing
// open rings. Empty rings are skipped; a polygon without rings yields nil.
func buildPolygon(rings [][]uint32, vertices [][3]float64, bbox *Bbox) (*geom.Polygon, error) {
	flat := make([]float64, 0, 3*8)
	ends := make([]int, 0, len(rings))

	for _, ring := range rings {
		if len(ring) == 0 {
			continue
		}
		for _, idx := range ring {
			if int(idx) >= len(vertices) {
				return nil, sinkerrors.New(sinkerrors.ErrorTypeEncoding, "vertex index out of range").
					WithDetail("index", idx).
					WithDetail("vertices", len(vertices))
			}
			v := vertices[idx]
			bbox.Extend(v)
			flat = append(flat, v[0], v[1], v[2])
		}
		if first, last := vertices[ring[0]], vertices[ring[len(ring)-1]]; first != last {
			flat = append(flat, first[0], first[1], first[2])
		}
		ends = append(ends, len(flat))
	}

	if len(ends) == 0 {
		return nil, nil
	}
	return geom.NewPolygonFlat(geom.XYZ, flat, ends), nil
}

func marshalBlob(mp *geom.MultiPolygon, bbox Bbox, srsID int32) ([]byte, error) {
	body, err := wkb.Marshal(mp, binary.LittleEndian)
	if err != nil {
		return nil, sinkerrors.Wrap(err, sinkerrors.ErrorTypeEncoding, "failed to marshal WKB")
	}

	buf := pool.Buffers.Get()
	defer pool.Buffers.Put(buf)
	buf.Grow(gpHeaderLen + gpEnvelopeLen + len(body))
	buf.Write([]byte{gpMagic0, gpMagic1, gpVersion, gpFlagsXYZEnvelope})

	envelope := []float64{
		bbox.Min[0], bbox.Max[0],
		bbox.Min[1], bbox.Max[1],
		bbox.Min[2], bbox.Max[2],
	}
	if err := binary.Write(buf, binary.LittleEndian, srsID); err != nil {
		return nil, sinkerrors.Wrap(err, sinkerrors.ErrorTypeEncoding, "failed to write srs id")
	}
	if err := binary.Write(buf, binary.LittleEndian, envelope); err != nil {
		return nil, sinkerrors.Wrap(err, sinkerrors.ErrorTypeEncoding, "failed to write envelope")
	}
	buf.Write(body)
	return bytes.Clone(buf.Bytes()), nil
}

// Blob is a decoded GeoPackage geometry blob.
type Blob struct {
	SrsID    int32
	Envelope Bbox
	Geometry *geom.MultiPolygon
}

// ParseBlob decodes a blob produced by Encode.
func ParseBlob(data []byte) (*Blob, error) {
	if len(data) < gpHeaderLen+gpEnvelopeLen {
		return nil, fmt.Errorf("geometry blob too short: %d bytes", len(data))
	}
	if data[0] != gpMagic0 || data[1] != gpMagic1 {
		return nil, fmt.Errorf("missing GP magic")
	}
	if data[3] != gpFlagsXYZEnvelope {
		return nil, fmt.Errorf("unexpected header flags 0x%02x", data[3])
	}

	out := &Blob{SrsID: int32(binary.LittleEndian.Uint32(data[4:8]))}

	var env [6]float64
	if err := binary.Read(bytes.NewReader(data[gpHeaderLen:gpHeaderLen+gpEnvelopeLen]), binary.LittleEndian, &env); err != nil {
		return nil, fmt.Errorf("failed to read envelope: %w", err)
	}
	out.Envelope = Bbox{
		Min: [3]float64{env[0], env[2], env[4]},
		Max: [3]float64{env[1], env[3], env[5]},
	}

	g, err := wkb.Unmarshal(data[gpHeaderLen+gpEnvelopeLen:])
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal WKB: %w", err)
	}
	mp, ok := g.(*geom.MultiPolygon)
	if !ok {
		return nil, fmt.Errorf("unexpected geometry %T", g)
	}
	out.Geometry = mp
	return out, nil
}

package lightgrid

import (
	"encoding/binary"
	"math"
)

// cellByteSize matches the shader-side LightCluster struct: two u32 counts
// followed by fixed-size u8 arrays for point lights and polygons.
const cellByteSize = 4 + 4 + MaxPointLightsPerCell + MaxPolygonsPerCell

func float32Bytes(buf []byte, off int, v float32) {
	binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
}

// EncodeCell packs one cell's record into the fixed-size shader layout,
// matching the teacher's byte-packing idiom (encoding/binary.LittleEndian
// plus math.Float32bits) used throughout voxelrt/rt/gpu/manager.go.
func EncodeCell(c *Cell) []byte {
	buf := make([]byte, cellByteSize)
	binary.LittleEndian.PutUint32(buf[0:], uint32(len(c.PointLights)))
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(c.Polygons)))
	copy(buf[8:8+MaxPointLightsPerCell], c.PointLights)
	copy(buf[8+MaxPointLightsPerCell:8+MaxPointLightsPerCell+MaxPolygonsPerCell], c.Polygons)
	return buf
}

// EncodeMetadata packs the grid-wide header: origin, size, cell size,
// light/polygon counts (spec.md §4.4.3's "Metadata" region).
func (g *Grid) EncodeMetadata() []byte {
	buf := make([]byte, 9*4)
	binary.LittleEndian.PutUint32(buf[0:], uint32(int32(g.MinCell[0])))
	binary.LittleEndian.PutUint32(buf[4:], uint32(int32(g.MinCell[1])))
	binary.LittleEndian.PutUint32(buf[8:], uint32(int32(g.MinCell[2])))
	binary.LittleEndian.PutUint32(buf[12:], uint32(g.Size[0]))
	binary.LittleEndian.PutUint32(buf[16:], uint32(g.Size[1]))
	binary.LittleEndian.PutUint32(buf[20:], uint32(g.Size[2]))
	float32Bytes(buf, 24, g.CellSize)
	binary.LittleEndian.PutUint32(buf[28:], uint32(len(g.pointLights)))
	binary.LittleEndian.PutUint32(buf[32:], uint32(len(g.polygonLights)))
	return buf
}

// EncodeDirtyRanges serializes the cell payloads for every coalesced dirty
// range as (byteOffset, bytes) pairs, ready for a staging commit per range.
func (g *Grid) EncodeDirtyRanges() []struct {
	ByteOffset uint64
	Data       []byte
} {
	ranges := g.DirtyRanges()
	out := make([]struct {
		ByteOffset uint64
		Data       []byte
	}, 0, len(ranges))
	for _, r := range ranges {
		data := make([]byte, 0, (r.End-r.Begin)*cellByteSize)
		for i := r.Begin; i < r.End; i++ {
			data = append(data, EncodeCell(&g.cells[i])...)
		}
		out = append(out, struct {
			ByteOffset uint64
			Data       []byte
		}{ByteOffset: uint64(r.Begin) * cellByteSize, Data: data})
	}
	return out
}

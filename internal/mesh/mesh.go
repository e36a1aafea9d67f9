// Package mesh uploads the fixed geometry the passes draw: a unit cube for
// cubemap faces and the skybox, and a fullscreen quad for the BRDF and LDR
// passes.
package mesh

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/lumen/internal/gpu"
)

// ErrEmptyMesh is returned when creating a mesh without vertices or indices.
var ErrEmptyMesh = errors.New("mesh: no vertices or indices")

// Vertex is the single vertex layout used by every mesh.
type Vertex struct {
	Position [3]float32
	UV       [2]float32
}

// VertexStride is the size of Vertex in bytes.
const VertexStride = 20

// VertexLayout returns the binding and attributes for Vertex: location 0
// is the position, location 1 the texture coordinate.
func VertexLayout() ([]gpu.VertexBinding, []gpu.VertexAttribute) {
	return []gpu.VertexBinding{{Binding: 0, Stride: VertexStride}},
		[]gpu.VertexAttribute{
			{Location: 0, Binding: 0, Format: gpu.VertexFloat32x3, Offset: 0},
			{Location: 1, Binding: 0, Format: gpu.VertexFloat32x2, Offset: 12},
		}
}

// Mesh is an uploaded vertex and index buffer pair.
//
// Lifecycle: New (or Cube/Quad) → Draw* → Destroy.
type Mesh struct {
	label      string
	vertices   *gpu.Buffer
	indices    *gpu.Buffer
	indexCount uint64
}

// New uploads vertices and 32-bit indices.
func New(gctx *gpu.Context, label string, verts []Vertex, indices []uint32) (*Mesh, error) {
	if len(verts) == 0 || len(indices) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrEmptyMesh, label)
	}
	vb := gpu.NewBuffer(gctx, gpu.BufferVertex, uint64(len(verts))*VertexStride, label+".vertices")
	if err := vb.Create(); err != nil {
		return nil, fmt.Errorf("mesh %q: %w", label, err)
	}
	if err := vb.WriteValue(0, verts); err != nil {
		vb.Destroy()
		return nil, fmt.Errorf("mesh %q: %w", label, err)
	}
	ib := gpu.NewBuffer(gctx, gpu.BufferIndex, uint64(len(indices))*4, label+".indices")
	if err := ib.Create(); err != nil {
		vb.Destroy()
		return nil, fmt.Errorf("mesh %q: %w", label, err)
	}
	if err := ib.WriteValue(0, indices); err != nil {
		vb.Destroy()
		ib.Destroy()
		return nil, fmt.Errorf("mesh %q: %w", label, err)
	}
	slogger().Debug("mesh uploaded", "label", label, "vertices", len(verts), "indices", len(indices))
	return &Mesh{label: label, vertices: vb, indices: ib, indexCount: uint64(len(indices))}, nil
}

// Label returns the mesh label.
func (m *Mesh) Label() string { return m.label }

// VertexBuffer returns the vertex buffer.
func (m *Mesh) VertexBuffer() *gpu.Buffer { return m.vertices }

// IndexBuffer returns the index buffer.
func (m *Mesh) IndexBuffer() *gpu.Buffer { return m.indices }

// IndexCount returns the number of indices.
func (m *Mesh) IndexCount() uint64 { return m.indexCount }

// Bind binds the vertex and index buffers.
func (m *Mesh) Bind(cmd *gpu.CommandBuffer) error {
	if err := cmd.BindVertexBuffers(0, m.vertices); err != nil {
		return err
	}
	return cmd.BindIndexBuffer(m.indices, gpu.IndexUint32)
}

// Draw binds the mesh and records one indexed draw.
func (m *Mesh) Draw(cmd *gpu.CommandBuffer) error {
	if err := m.Bind(cmd); err != nil {
		return err
	}
	return cmd.DrawIndexed(m.indexCount)
}

// Destroy releases both buffers.
func (m *Mesh) Destroy() {
	m.vertices.Destroy()
	m.indices.Destroy()
}

// =============================================================================
// Fixed geometry
// =============================================================================

// cubeFaces lists each face as (normal, u, v) with u × v = normal, so the
// generated quads wind counter-clockwise seen from outside.
var cubeFaces = [6][3]mgl32.Vec3{
	{{1, 0, 0}, {0, 0, -1}, {0, 1, 0}},
	{{-1, 0, 0}, {0, 0, 1}, {0, 1, 0}},
	{{0, 1, 0}, {1, 0, 0}, {0, 0, -1}},
	{{0, -1, 0}, {1, 0, 0}, {0, 0, 1}},
	{{0, 0, 1}, {1, 0, 0}, {0, 1, 0}},
	{{0, 0, -1}, {-1, 0, 0}, {0, 1, 0}},
}

// CubeGeometry returns the 24 vertices and 36 indices of a cube spanning
// [-1, 1] on every axis.
func CubeGeometry() ([]Vertex, []uint32) {
	corners := [4][2]float32{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}}
	verts := make([]Vertex, 0, 24)
	indices := make([]uint32, 0, 36)
	for _, f := range cubeFaces {
		n, u, v := f[0], f[1], f[2]
		base := uint32(len(verts))
		for _, c := range corners {
			p := n.Add(u.Mul(c[0])).Add(v.Mul(c[1]))
			verts = append(verts, Vertex{
				Position: [3]float32{p.X(), p.Y(), p.Z()},
				UV:       [2]float32{(c[0] + 1) / 2, (1 - c[1]) / 2},
			})
		}
		indices = append(indices, base, base+1, base+2, base, base+2, base+3)
	}
	return verts, indices
}

// QuadGeometry returns a quad covering clip space with z = 0. UV (0, 0) is
// the top-left corner in Vulkan clip space, where y points down.
func QuadGeometry() ([]Vertex, []uint32) {
	verts := []Vertex{
		{Position: [3]float32{-1, -1, 0}, UV: [2]float32{0, 0}},
		{Position: [3]float32{1, -1, 0}, UV: [2]float32{1, 0}},
		{Position: [3]float32{1, 1, 0}, UV: [2]float32{1, 1}},
		{Position: [3]float32{-1, 1, 0}, UV: [2]float32{0, 1}},
	}
	return verts, []uint32{0, 1, 2, 0, 2, 3}
}

// Cube uploads the unit cube.
func Cube(gctx *gpu.Context) (*Mesh, error) {
	v, i := CubeGeometry()
	return New(gctx, "cube", v, i)
}

// Quad uploads the fullscreen quad.
func Quad(gctx *gpu.Context) (*Mesh, error) {
	v, i := QuadGeometry()
	return New(gctx, "quad", v, i)
}

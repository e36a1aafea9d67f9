package mesh_test

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/lumen/internal/gpu"
	"github.com/gogpu/lumen/internal/gpu/gputest"
	"github.com/gogpu/lumen/internal/mesh"
)

// =============================================================================
// Geometry
// =============================================================================

func TestCubeGeometry(t *testing.T) {
	verts, indices := mesh.CubeGeometry()
	if len(verts) != 24 || len(indices) != 36 {
		t.Fatalf("cube = %d vertices, %d indices, want 24, 36", len(verts), len(indices))
	}
	for i, v := range verts {
		for axis, c := range v.Position {
			if c != 1 && c != -1 {
				t.Errorf("vertex %d axis %d = %v, want ±1", i, axis, c)
			}
		}
	}
	for tri := 0; tri < len(indices); tri += 3 {
		a := mgl32.Vec3(verts[indices[tri]].Position)
		b := mgl32.Vec3(verts[indices[tri+1]].Position)
		c := mgl32.Vec3(verts[indices[tri+2]].Position)
		n := b.Sub(a).Cross(c.Sub(a))
		centroid := a.Add(b).Add(c).Mul(1.0 / 3)
		if n.Dot(centroid) <= 0 {
			t.Errorf("triangle %d winds inward", tri/3)
		}
	}
}

func TestQuadGeometry(t *testing.T) {
	verts, indices := mesh.QuadGeometry()
	if len(verts) != 4 || len(indices) != 6 {
		t.Fatalf("quad = %d vertices, %d indices", len(verts), len(indices))
	}
	for i, v := range verts {
		wantU := (v.Position[0] + 1) / 2
		wantV := (v.Position[1] + 1) / 2
		if v.UV[0] != wantU || v.UV[1] != wantV {
			t.Errorf("vertex %d uv = %v, want (%v, %v)", i, v.UV, wantU, wantV)
		}
		if v.Position[2] != 0 {
			t.Errorf("vertex %d z = %v, want 0", i, v.Position[2])
		}
	}
}

func TestVertexLayout(t *testing.T) {
	bindings, attrs := mesh.VertexLayout()
	if len(bindings) != 1 || bindings[0].Stride != mesh.VertexStride {
		t.Fatalf("bindings = %+v", bindings)
	}
	var size uint32
	for _, a := range attrs {
		size += a.Format.Size()
	}
	if size != mesh.VertexStride {
		t.Errorf("attribute sizes sum to %d, want %d", size, mesh.VertexStride)
	}
	if binary.Size(mesh.Vertex{}) != mesh.VertexStride {
		t.Errorf("binary size = %d, want %d", binary.Size(mesh.Vertex{}), mesh.VertexStride)
	}
}

// =============================================================================
// Upload and draw
// =============================================================================

func TestCube_UploadAndDraw(t *testing.T) {
	dev, gctx := gputest.NewContext(t)

	cube, err := mesh.Cube(gctx)
	if err != nil {
		t.Fatalf("Cube: %v", err)
	}
	if cube.IndexCount() != 36 {
		t.Errorf("IndexCount = %d, want 36", cube.IndexCount())
	}

	vh, _ := cube.VertexBuffer().Handle()
	data := dev.BufferContents(vh)
	if len(data) != 24*mesh.VertexStride {
		t.Fatalf("vertex buffer = %d bytes, want %d", len(data), 24*mesh.VertexStride)
	}
	verts, _ := mesh.CubeGeometry()
	x := math.Float32frombits(binary.LittleEndian.Uint32(data[0:]))
	u := math.Float32frombits(binary.LittleEndian.Uint32(data[12:]))
	if x != verts[0].Position[0] || u != verts[0].UV[0] {
		t.Errorf("first vertex = (%v, uv %v), want (%v, uv %v)", x, u, verts[0].Position[0], verts[0].UV[0])
	}

	ih, _ := cube.IndexBuffer().Handle()
	idx := dev.BufferContents(ih)
	if got := binary.LittleEndian.Uint32(idx[4*35:]); got != 23 {
		t.Errorf("last index = %d, want 23", got)
	}

	cmd, err := gpu.NewCommandBuffer(gctx, gpu.LevelPrimary)
	if err != nil {
		t.Fatalf("NewCommandBuffer: %v", err)
	}
	if err := cmd.Begin(true); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := cube.Draw(cmd); err != nil {
		t.Fatalf("Draw: %v", err)
	}
	if dev.Count(cmd.Handle(), gputest.OpBindVertex) != 1 || dev.Count(cmd.Handle(), gputest.OpBindIndex) != 1 {
		t.Error("Draw must bind one vertex and one index buffer")
	}
	draws := dev.Filter(cmd.Handle(), gputest.OpDrawIndexed)
	if len(draws) != 1 || draws[0].X != 36 || draws[0].Y != 1 {
		t.Errorf("draws = %+v, want one draw of 36 indices", draws)
	}

	cube.Destroy()
	if n := dev.Live().Buffers; n != 0 {
		t.Errorf("live buffers after Destroy = %d", n)
	}
}

func TestDraw_NotRecording(t *testing.T) {
	_, gctx := gputest.NewContext(t)
	quad, err := mesh.Quad(gctx)
	if err != nil {
		t.Fatalf("Quad: %v", err)
	}
	defer quad.Destroy()

	cmd, err := gpu.NewCommandBuffer(gctx, gpu.LevelPrimary)
	if err != nil {
		t.Fatalf("NewCommandBuffer: %v", err)
	}
	if err := quad.Draw(cmd); !errors.Is(err, gpu.ErrNotRecording) {
		t.Errorf("Draw without Begin = %v, want ErrNotRecording", err)
	}
}

func TestNew_Empty(t *testing.T) {
	_, gctx := gputest.NewContext(t)
	if _, err := mesh.New(gctx, "empty", nil, []uint32{0}); !errors.Is(err, mesh.ErrEmptyMesh) {
		t.Errorf("err = %v, want ErrEmptyMesh", err)
	}
}

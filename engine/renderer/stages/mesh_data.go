package stages

import (
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
	vk "github.com/goki/vulkan"
)

type Vertex struct {
	Position mgl32.Vec3
	Normal   mgl32.Vec3
	TexCoord mgl32.Vec2
}

// UniformBufferObject matches the std140 block at binding 0 of mesh.vert.
type UniformBufferObject struct {
	World      mgl32.Mat4
	View       mgl32.Mat4
	Projection mgl32.Mat4
}

// Mesh is indexed triangle list data.
type Mesh struct {
	Vertices []Vertex
	Indices  []uint16
}

// QuadMesh is a unit quad in the XY plane facing +Z with its corner at the
// origin.
func QuadMesh() Mesh {
	normal := mgl32.Vec3{0, 0, 1}
	corners := []mgl32.Vec3{
		{0, 0, 0},
		{1, 0, 0},
		{1, 1, 0},
		{1, 1, 0},
		{0, 1, 0},
		{0, 0, 0},
	}

	vertices := make([]Vertex, len(corners))
	for i, p := range corners {
		vertices[i] = Vertex{
			Position: p,
			Normal:   normal,
			TexCoord: mgl32.Vec2{p.X(), 1 - p.Y()},
		}
	}
	return Mesh{
		Vertices: vertices,
		Indices:  []uint16{0, 1, 2, 2, 4, 0},
	}
}

func vertexStride() uint32 {
	return uint32(unsafe.Sizeof(Vertex{}))
}

func vertexAttributes() []vk.VertexInputAttributeDescription {
	var v Vertex
	return []vk.VertexInputAttributeDescription{
		{
			Binding:  0,
			Location: 0,
			Format:   vk.FormatR32g32b32Sfloat,
			Offset:   uint32(unsafe.Offsetof(v.Position)),
		},
		{
			Binding:  0,
			Location: 1,
			Format:   vk.FormatR32g32b32Sfloat,
			Offset:   uint32(unsafe.Offsetof(v.Normal)),
		},
		{
			Binding:  0,
			Location: 2,
			Format:   vk.FormatR32g32Sfloat,
			Offset:   uint32(unsafe.Offsetof(v.TexCoord)),
		},
	}
}

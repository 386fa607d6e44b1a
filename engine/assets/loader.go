package assets

type AssetType uint8

const (
	AssetTypeNone AssetType = iota
	AssetTypeShader
	AssetTypeTexture
)

// Loader reads one asset from disk. Shader loaders return []uint32 and
// texture loaders return image.Image.
type Loader interface {
	Load(path string) (any, error)
}

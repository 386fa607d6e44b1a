package assets

import (
	"context"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/smallworld/engine/assets/loaders"
	"github.com/spaghettifunk/smallworld/engine/core"
	"golang.org/x/sync/errgroup"
)

const (
	shaderDir  = "shaders"
	textureDir = "textures"

	changeBuffer = 16
)

var (
	ErrAssetNotFound  = errors.New("asset not found")
	ErrWatcherRunning = errors.New("asset watcher already running")
)

type AssetInfo struct {
	Name       string
	Path       string
	Type       AssetType
	LastLoaded time.Time
}

// Manager indexes the asset directory, loads shaders and textures from it
// and, once Watch is running, reports the names of assets that change on disk.
type Manager struct {
	dir     string
	assets  map[string]AssetInfo
	loaders map[AssetType]Loader

	mutex sync.RWMutex

	changes chan string
	cancel  context.CancelFunc
	group   *errgroup.Group
}

func NewManager(dir string) (*Manager, error) {
	s, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "opening asset directory %s", dir)
	}
	if !s.IsDir() {
		return nil, errors.Newf("asset path %s is not a directory", dir)
	}

	m := &Manager{
		dir:     filepath.Clean(dir),
		assets:  make(map[string]AssetInfo),
		loaders: make(map[AssetType]Loader),
		changes: make(chan string, changeBuffer),
	}
	m.registerLoader(AssetTypeShader, &loaders.ShaderLoader{})
	m.registerLoader(AssetTypeTexture, &loaders.TextureLoader{})

	err = filepath.WalkDir(m.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			m.handleFileEvent(path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "indexing %s", dir)
	}
	core.LogDebug("Indexed %d assets under %s.", m.Count(), m.dir)
	return m, nil
}

func (m *Manager) registerLoader(assetType AssetType, loader Loader) {
	m.loaders[assetType] = loader
}

// Count is the number of indexed assets.
func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.assets)
}

// LoadShader reads shaders/<name>.spv, e.g. LoadShader("mesh.vert").
func (m *Manager) LoadShader(name string) ([]uint32, error) {
	data, err := m.load(filepath.Join(m.dir, shaderDir, name+".spv"), AssetTypeShader)
	if err != nil {
		return nil, err
	}
	return data.([]uint32), nil
}

// LoadTexture decodes textures/<name>.
func (m *Manager) LoadTexture(name string) (image.Image, error) {
	data, err := m.load(filepath.Join(m.dir, textureDir, name), AssetTypeTexture)
	if err != nil {
		return nil, err
	}
	return data.(image.Image), nil
}

func (m *Manager) load(path string, assetType AssetType) (any, error) {
	m.mutex.RLock()
	asset, exists := m.assets[path]
	m.mutex.RUnlock()
	if !exists {
		// Written after the last index pass and before the watcher saw it.
		if _, err := os.Stat(path); err != nil {
			return nil, errors.Wrapf(ErrAssetNotFound, "%s", path)
		}
		if asset, exists = m.handleFileEvent(path); !exists {
			return nil, errors.Wrapf(ErrAssetNotFound, "%s", path)
		}
	}
	if asset.Type != assetType {
		return nil, errors.Newf("asset %s is not of the requested type", path)
	}

	loader, ok := m.loaders[asset.Type]
	if !ok {
		return nil, errors.Newf("no loader registered for asset type %d", asset.Type)
	}
	data, err := loader.Load(path)
	if err != nil {
		return nil, err
	}

	m.mutex.Lock()
	asset.LastLoaded = time.Now()
	m.assets[path] = asset
	m.mutex.Unlock()
	return data, nil
}

// Changes delivers the name of every indexed asset created or written while
// Watch runs. It is closed when the watcher stops.
func (m *Manager) Changes() <-chan string {
	return m.changes
}

// Watch starts watching the asset directory recursively until ctx is done or
// Close is called.
func (m *Manager) Watch(ctx context.Context) error {
	if m.group != nil {
		return ErrWatcherRunning
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "creating asset watcher")
	}
	if err := m.watchRecursive(watcher, m.dir); err != nil {
		watcher.Close()
		return err
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.group, ctx = errgroup.WithContext(ctx)
	m.group.Go(func() error {
		return m.run(ctx, watcher)
	})
	core.LogInfo("Watching %s for asset changes.", m.dir)
	return nil
}

// Close stops the watcher and waits for it to exit.
func (m *Manager) Close() error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	return m.group.Wait()
}

func (m *Manager) run(ctx context.Context, watcher *fsnotify.Watcher) error {
	defer close(m.changes)
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			m.handleWatchEvent(ctx, watcher, e)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			core.LogError("Asset watcher: %s", err)
		}
	}
}

func (m *Manager) handleWatchEvent(ctx context.Context, watcher *fsnotify.Watcher, e fsnotify.Event) {
	if e.Has(fsnotify.Create) {
		if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
			if err := m.watchRecursive(watcher, e.Name); err != nil {
				core.LogWarn("Could not watch %s: %s", e.Name, err)
			}
			return
		}
	}
	// Can't stat a deleted path, the watch on it is dropped by fsnotify.
	if e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename) {
		m.removeAsset(e.Name)
		return
	}
	if !e.Has(fsnotify.Create) && !e.Has(fsnotify.Write) {
		return
	}

	asset, ok := m.handleFileEvent(e.Name)
	if !ok {
		return
	}
	select {
	case m.changes <- asset.Name:
	case <-ctx.Done():
	}
}

// watchRecursive adds every directory under root to the watcher and indexes
// the files found on the way.
func (m *Manager) watchRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		m.handleFileEvent(path)
		return nil
	})
}

func (m *Manager) handleFileEvent(path string) (AssetInfo, bool) {
	path = filepath.Clean(path)
	assetType := determineAssetType(path)
	if assetType == AssetTypeNone {
		return AssetInfo{}, false
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	asset := m.assets[path]
	asset.Name = assetName(path, assetType)
	asset.Path = path
	asset.Type = assetType
	m.assets[path] = asset
	return asset, true
}

func (m *Manager) removeAsset(path string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.assets, filepath.Clean(path))
}

func determineAssetType(path string) AssetType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".spv":
		return AssetTypeShader
	case ".png", ".jpg", ".jpeg", ".bmp":
		return AssetTypeTexture
	default:
		return AssetTypeNone
	}
}

// assetName is the name stages ask for: "mesh.vert" for mesh.vert.spv and
// the file name for textures.
func assetName(path string, assetType AssetType) string {
	base := filepath.Base(path)
	if assetType == AssetTypeShader {
		return strings.TrimSuffix(base, filepath.Ext(base))
	}
	return base
}

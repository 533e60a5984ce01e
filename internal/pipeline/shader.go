package pipeline

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrInvalidShader is returned for files that are not SPIR-V binaries.
var ErrInvalidShader = errors.New("pipeline: not a SPIR-V binary")

const spirvMagic = 0x07230203

// DefaultShaderCacheSize holds a vertex and fragment shader with room to
// spare.
const DefaultShaderCacheSize = 8

// ShaderCache keeps recently loaded SPIR-V binaries in memory so pipeline
// rebuilds after a resize do not go back to disk.
type ShaderCache struct {
	cache *lru.Cache[string, []byte]
}

func NewShaderCache(size int) (*ShaderCache, error) {
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("new shader cache: %w", err)
	}
	return &ShaderCache{cache: cache}, nil
}

// Load returns the SPIR-V code at path, reading it on a cache miss.
func (c *ShaderCache) Load(path string) ([]byte, error) {
	if code, ok := c.cache.Get(path); ok {
		return code, nil
	}
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read shader: %w", err)
	}
	if err := validateSPIRV(code); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	c.cache.Add(path, code)
	return code, nil
}

// Len is the number of cached shaders.
func (c *ShaderCache) Len() int { return c.cache.Len() }

func validateSPIRV(code []byte) error {
	if len(code) < 4 || len(code)%4 != 0 {
		return fmt.Errorf("%w: length %d is not a positive multiple of 4", ErrInvalidShader, len(code))
	}
	if magic := binary.LittleEndian.Uint32(code); magic != spirvMagic {
		return fmt.Errorf("%w: bad magic 0x%08x", ErrInvalidShader, magic)
	}
	return nil
}

//go:build mage

package main

import (
	"fmt"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const shaderDir = "assets/shaders"

type Build mg.Namespace

// Compiles every GLSL shader in assets/shaders to <name>.spv with glslc.
func (Build) Shaders() error {
	sources, err := shaderSources()
	if err != nil {
		return err
	}
	for _, source := range sources {
		if err := sh.RunV("glslc", source, "-o", source+".spv"); err != nil {
			return err
		}
	}
	fmt.Printf("Compiled %d shaders.\n", len(sources))
	return nil
}

// Builds the smallworld binary.
func (Build) Engine() error {
	return sh.RunV("go", "build", "-o", "bin/smallworld", ".")
}

func shaderSources() ([]string, error) {
	var sources []string
	for _, pattern := range []string{"*.vert", "*.frag"} {
		matches, err := filepath.Glob(filepath.Join(shaderDir, pattern))
		if err != nil {
			return nil, err
		}
		sources = append(sources, matches...)
	}
	return sources, nil
}

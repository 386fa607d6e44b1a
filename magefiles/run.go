//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

type Run mg.Namespace

// Compiles the shaders and then runs the engine.
func (Run) Engine() error {
	mg.Deps(Build.Shaders)
	fmt.Println("Run engine...")
	return sh.RunV("go", "run", ".")
}

// Runs the unit tests. None of them need a GPU.
func (Run) Tests() error {
	return sh.RunV("go", "test", "./...")
}

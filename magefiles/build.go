//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Tidies modules and builds the rignorm binary into bin/.
func (Build) Cli() error {
	if _, err := executeCmd("go", withArgs("mod", "tidy")); err != nil {
		return err
	}
	_, err := executeCmd("go", withArgs("build", "-o", "bin/rignorm", "./cmd/rignorm"), withEnv("CGO_ENABLED=0"), withStream())
	return err
}

// Runs vet and the test suite.
func Test() error {
	if _, err := executeCmd("go", withArgs("vet", "./...")); err != nil {
		return err
	}
	_, err := executeCmd("go", withArgs("test", "./..."), withStream())
	return err
}

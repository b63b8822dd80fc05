// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package stagingdir stages a set of related files in a temporary directory
// before moving them into place together.
package stagingdir

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// D manages a staging directory.
//
// While D is active, its files reside in a temporary location. Once finished,
// D can either be committed or destroyed. On commit, each staged file is
// moved into its destination directory; on destroy, the staging directory is
// deleted along with all of its contents.
type D struct {
	// tempDir is the temporary directory to use for staging.
	tempDir string

	// path is the path of the staging directory.
	path string
}

// New creates a new staging directory underneath of tempDir.
//
// The directory will be created with the specified prefix. For Commit to be
// atomic per file, tempDir should be on the same volume as the destination.
func New(tempDir, prefix string) (*D, error) {
	stagingPath, err := ioutil.TempDir(tempDir, prefix)
	if err != nil {
		return nil, err
	}

	return &D{
		tempDir: tempDir,
		path:    stagingPath,
	}, nil
}

// Path returns the staging path of the file named name.
func (sd *D) Path(name string) string {
	if sd.path == "" {
		panic("invalid staging directory")
	}
	return filepath.Join(sd.path, name)
}

// Destroy purges the staging directory and its contents.
func (sd *D) Destroy() error {
	if sd.path == "" {
		// There is nothing to destroy.
		return nil
	}

	if err := os.RemoveAll(sd.path); err != nil {
		return err
	}

	sd.path = ""
	return nil
}

// Commit moves every staged file into destDir, replacing files of the same
// name, and then removes the staging directory.
//
// Each file is moved atomically, but the set as a whole is not.
func (sd *D) Commit(destDir string) error {
	if sd.path == "" {
		return errors.New("invalid staging directory")
	}

	entries, err := ioutil.ReadDir(sd.path)
	if err != nil {
		return errors.Wrap(err, "listing staging directory")
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		src, dest := filepath.Join(sd.path, e.Name()), filepath.Join(destDir, e.Name())
		if err := os.Rename(src, dest); err != nil {
			return errors.Wrapf(err, "moving staged file into place (%q => %q)", src, dest)
		}
	}
	return sd.Destroy()
}

// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package stagingdir

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("D", func() {
	cwd, err := os.Getwd()
	if err != nil {
		panic(errors.Wrap(err, "could not get working directory"))
	}

	var tdir, dest string
	BeforeEach(func() {
		var err error
		tdir, err = ioutil.TempDir(cwd, "stagingdir_test_data")
		Expect(err).ToNot(HaveOccurred())
		dest = filepath.Join(tdir, "dest")
		Expect(os.Mkdir(dest, 0755)).To(Succeed())
	})

	AfterEach(func() {
		if tdir != "" {
			_ = os.RemoveAll(tdir)
			tdir = ""
		}
	})

	It("moves staged files into place, replacing existing files", func() {
		Expect(ioutil.WriteFile(filepath.Join(dest, "a"), []byte("old"), 0644)).To(Succeed())

		sd, err := New(tdir, "staging")
		Expect(err).ToNot(HaveOccurred())
		Expect(ioutil.WriteFile(sd.Path("a"), []byte("new"), 0644)).To(Succeed())
		Expect(ioutil.WriteFile(sd.Path("b"), []byte("b"), 0644)).To(Succeed())
		staging := filepath.Dir(sd.Path("a"))

		Expect(sd.Commit(dest)).To(Succeed())
		Expect(ioutil.ReadFile(filepath.Join(dest, "a"))).To(Equal([]byte("new")))
		Expect(ioutil.ReadFile(filepath.Join(dest, "b"))).To(Equal([]byte("b")))
		Expect(staging).ToNot(BeADirectory())

		Expect(sd.Commit(dest)).ToNot(Succeed())
	})

	It("discards staged files on Destroy", func() {
		sd, err := New(tdir, "staging")
		Expect(err).ToNot(HaveOccurred())
		Expect(ioutil.WriteFile(sd.Path("a"), []byte("x"), 0644)).To(Succeed())
		staging := filepath.Dir(sd.Path("a"))

		Expect(sd.Destroy()).To(Succeed())
		Expect(sd.Destroy()).To(Succeed())
		Expect(staging).ToNot(BeADirectory())
		Expect(filepath.Join(dest, "a")).ToNot(BeAnExistingFile())
	})
})

func TestStagingDir(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Testing stagingdir")
}

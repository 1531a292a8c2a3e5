package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Load", func() {
	It("returns Default() when path is empty", func() {
		cfg, err := Load("")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg).To(Equal(Default()))
	})

	It("returns Default() when the file doesn't exist", func() {
		cfg, err := Load(filepath.Join(os.TempDir(), "elude-does-not-exist.yaml"))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg).To(Equal(Default()))
	})

	It("layers a partial YAML file over the defaults", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "config.yaml")
		Expect(os.WriteFile(path, []byte("fetcher_global_concurrent_conn: 42\n"), 0o644)).To(Succeed())

		cfg, err := Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.FetcherGlobalConcurrentConn).To(Equal(42))
		Expect(cfg.ProxyTestTimeout).To(Equal(10 * time.Second))
	})
})

var _ = Describe("Validate", func() {
	It("rejects an empty proxy test URL", func() {
		cfg := Default()
		cfg.ProxyTestURL = ""
		Expect(Validate(&cfg)).To(HaveOccurred())
	})

	It("rejects non-positive concurrency caps", func() {
		cfg := Default()
		cfg.FetcherGlobalConcurrentConn = 0
		Expect(Validate(&cfg)).To(HaveOccurred())
	})

	It("accepts the reference defaults", func() {
		cfg := Default()
		Expect(Validate(&cfg)).NotTo(HaveOccurred())
	})
})

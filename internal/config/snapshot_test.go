package config

import (
	"encoding/json"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "config")
}

var _ = Describe("Snapshot.Update", func() {
	var snap *Snapshot

	BeforeEach(func() {
		snap = NewSnapshot(Default())
	})

	It("applies a known integer key", func() {
		err := snap.Update(map[string]json.RawMessage{
			"fetcher_global_concurrent_conn": json.RawMessage(`500`),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.FetcherGlobalConcurrentConn()).To(Equal(500))
	})

	It("applies a known duration key as seconds", func() {
		err := snap.Update(map[string]json.RawMessage{
			"fetch_request_timeout": json.RawMessage(`45`),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.FetchRequestTimeout()).To(Equal(45 * time.Second))
	})

	It("rejects an unknown key and applies nothing from that call", func() {
		before := snap.FetcherGlobalConcurrentConn()
		err := snap.Update(map[string]json.RawMessage{
			"fetcher_global_concurrent_conn": json.RawMessage(`999`),
			"not_a_real_key":                 json.RawMessage(`1`),
		})
		Expect(err).To(HaveOccurred())
		Expect(snap.FetcherGlobalConcurrentConn()).To(Equal(before))
	})

	It("rejects a type-mismatched value", func() {
		err := snap.Update(map[string]json.RawMessage{
			"fetch_request_cache": json.RawMessage(`"not a bool"`),
		})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Default", func() {
	It("matches the documented reference defaults", func() {
		d := Default()
		Expect(d.ProxyTestMaxConcurrentConn).To(Equal(20))
		Expect(d.ProxyTestTimeout).To(Equal(10 * time.Second))
		Expect(d.FetcherGlobalConcurrentConn).To(Equal(1000))
		Expect(d.FetchRequestCache).To(BeFalse())
		Expect(d.QueueMaxDepth).To(Equal(10000))
	})
})

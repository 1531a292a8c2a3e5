package metrics

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "metrics")
}

// New registers every collector with the default Prometheus registry, so
// the whole suite shares one instance: a second New() would panic on
// duplicate registration, same as it would in a running broker.
var m = New()

var _ = Describe("Metrics", func() {
	It("labels queue depth and pool size by frame", func() {
		m.SetQueueDepth("alpha", 7)
		m.SetPoolSize("alpha", 3)

		Expect(testutil.ToFloat64(m.queueDepth.WithLabelValues("alpha"))).To(Equal(7.0))
		Expect(testutil.ToFloat64(m.poolSize.WithLabelValues("alpha"))).To(Equal(3.0))
	})

	It("keeps distinct frames' gauges independent", func() {
		m.SetQueueDepth("beta", 2)
		m.SetQueueDepth("gamma", 9)

		Expect(testutil.ToFloat64(m.queueDepth.WithLabelValues("beta"))).To(Equal(2.0))
		Expect(testutil.ToFloat64(m.queueDepth.WithLabelValues("gamma"))).To(Equal(9.0))
	})

	It("counts cache hits and misses independently", func() {
		beforeHit := testutil.ToFloat64(m.cacheHits)
		m.RecordCacheHit()
		Expect(testutil.ToFloat64(m.cacheHits)).To(Equal(beforeHit + 1))

		beforeMiss := testutil.ToFloat64(m.cacheMisses)
		m.RecordCacheMiss()
		Expect(testutil.ToFloat64(m.cacheMisses)).To(Equal(beforeMiss + 1))
	})

	It("records cache bytes as the latest value, not a running total", func() {
		m.SetCacheBytes(1024)
		m.SetCacheBytes(512)

		Expect(testutil.ToFloat64(m.cacheBytes)).To(Equal(512.0))
	})

	It("counts transitions by destination state", func() {
		before := testutil.ToFloat64(m.transitions.WithLabelValues("healthy"))
		m.RecordTransition("healthy")
		m.RecordTransition("healthy")

		Expect(testutil.ToFloat64(m.transitions.WithLabelValues("healthy"))).To(Equal(before + 2))
	})

	It("observes fetch duration under the right outcome label", func() {
		m.ObserveFetch("success", 0.25)

		Expect(testutil.CollectAndCount(m.fetchLatency)).To(BeNumerically(">", 0))
	})
})

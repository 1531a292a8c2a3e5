package inflight

import (
	"encoding/json"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/eludehq/elude/internal/rpc"
)

func TestInflight(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "inflight")
}

var _ = Describe("Map", func() {
	It("reports the first Begin for a URL as owner, later ones as joiners", func() {
		m := New()
		r1 := &rpc.Request{ID: json.RawMessage(`1`), Method: rpc.MethodFetch}
		r2 := &rpc.Request{ID: json.RawMessage(`2`), Method: rpc.MethodPrefetch}

		Expect(m.Begin("http://x", r1)).To(BeFalse())
		Expect(m.Begin("http://x", r2)).To(BeTrue())
		Expect(m.Len()).To(Equal(1))
	})

	It("Finish returns every joined request and clears the URL", func() {
		m := New()
		r1 := &rpc.Request{ID: json.RawMessage(`1`), Method: rpc.MethodFetch}
		r2 := &rpc.Request{ID: json.RawMessage(`2`), Method: rpc.MethodPrefetch}
		m.Begin("http://x", r1)
		m.Begin("http://x", r2)

		reqs := m.Finish("http://x")
		Expect(reqs).To(HaveLen(2))
		Expect(m.Len()).To(Equal(0))
	})

	It("Finish on an unknown URL returns nothing", func() {
		m := New()
		Expect(m.Finish("http://nope")).To(BeNil())
	})
})

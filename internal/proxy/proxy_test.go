package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestProxy(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "proxy")
}

var _ = Describe("FetchOne", func() {
	It("returns ok=true with the response on a reachable target", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
			w.Write([]byte("short and stout"))
		}))
		defer srv.Close()

		result, ok := FetchOne(context.Background(), "GET", srv.URL, time.Second, nil)
		Expect(ok).To(BeTrue())
		Expect(result.StatusCode).To(Equal(http.StatusTeapot))
		Expect(string(result.Body)).To(Equal("short and stout"))
	})

	It("returns ok=false on connection refusal, never an application error", func() {
		_, ok := FetchOne(context.Background(), "GET", "http://127.0.0.1:1/", time.Second, nil)
		Expect(ok).To(BeFalse())
	})

	It("returns ok=false once the timeout elapses", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(50 * time.Millisecond)
		}))
		defer srv.Close()

		_, ok := FetchOne(context.Background(), "GET", srv.URL, 5*time.Millisecond, nil)
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("UserAgent", func() {
	It("always returns one of the known agents", func() {
		ua := UserAgent()
		Expect(ua).NotTo(BeEmpty())
		Expect(agents).To(ContainElement(ua))
	})
})

var _ = Describe("Semaphore", func() {
	It("blocks a second Acquire until Release", func() {
		s := NewSemaphore(1)
		Expect(s.Acquire(context.Background())).To(Succeed())

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := s.Acquire(ctx)
		Expect(err).To(HaveOccurred())

		s.Release()
		Expect(s.Acquire(context.Background())).To(Succeed())
	})

	It("never blocks when width is non-positive", func() {
		s := NewSemaphore(0)
		Expect(s.Acquire(context.Background())).To(Succeed())
		Expect(s.Acquire(context.Background())).To(Succeed())
	})
})

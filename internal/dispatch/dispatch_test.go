package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/eludehq/elude/internal/cache"
	"github.com/eludehq/elude/internal/config"
	"github.com/eludehq/elude/internal/inflight"
	"github.com/eludehq/elude/internal/proxy"
	"github.com/eludehq/elude/internal/queue"
	"github.com/eludehq/elude/internal/rpc"
)

func TestDispatch(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "dispatch")
}

func collector() (deliver Deliver, get func() []*rpc.Response) {
	var mu sync.Mutex
	var got []*rpc.Response
	deliver = func(r *rpc.Response) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, r)
	}
	get = func() []*rpc.Response {
		mu.Lock()
		defer mu.Unlock()
		out := make([]*rpc.Response, len(got))
		copy(out, got)
		return out
	}
	return
}

func fetchReq(id, url string) *rpc.Request {
	params, _ := json.Marshal(rpc.FetchParams{URL: url})
	return &rpc.Request{ID: json.RawMessage(id), Method: rpc.MethodFetch, Params: params}
}

var _ = Describe("Dispatcher", func() {
	var (
		q    *queue.Queue
		c    *cache.Cache
		inf  *inflight.Map
		snap *config.Snapshot
		sem  *proxy.Semaphore
		disp *Dispatcher
		get  func() []*rpc.Response
		p    *proxy.Proxy
	)

	BeforeEach(func() {
		q = queue.New(0)
		c = cache.New(1024*1024, time.Hour)
		inf = inflight.New()
		cfg := config.Default()
		cfg.FetchRequestTimeout = 2 * time.Second
		snap = config.NewSnapshot(cfg)
		sem = proxy.NewSemaphore(0)
		var deliver Deliver
		deliver, get = collector()
		disp = New(q, c, inf, sem, snap, deliver, nil, nil)
		p = &proxy.Proxy{Host: "127.0.0.1", Port: 0}
	})

	It("serves a successful fetch and caches it when caching is requested", func() {
		target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("hello"))
		}))
		defer target.Close()

		// A minimal forward proxy: for plain HTTP, Go's transport sends an
		// absolute-form request line, so r.URL already names the real
		// destination.
		fwd := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			resp, err := http.Get(r.URL.String())
			if err != nil {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			defer resp.Body.Close()
			io.Copy(w, resp.Body)
		}))
		defer fwd.Close()

		host, portStr, err := net.SplitHostPort(fwd.Listener.Addr().String())
		Expect(err).NotTo(HaveOccurred())
		port, err := strconv.ParseUint(portStr, 10, 16)
		Expect(err).NotTo(HaveOccurred())
		proxyThroughFwd := &proxy.Proxy{Host: host, Port: uint16(port)}

		on := true
		params, _ := json.Marshal(rpc.FetchParams{URL: target.URL, Cache: &on})
		req := &rpc.Request{ID: json.RawMessage(`1`), Method: rpc.MethodFetch, Params: params}

		retryable := disp.Handle(context.Background(), req, proxyThroughFwd)
		Expect(retryable).To(BeFalse())

		responses := get()
		Expect(responses).To(HaveLen(1))
		Expect(responses[0].Err).To(BeNil())
		Expect(responses[0].Result).To(Equal("hello"))

		body, ok := c.Get(target.URL)
		Expect(ok).To(BeTrue())
		Expect(string(body)).To(Equal("hello"))
	})

	It("serves a cache hit without a second fetch", func() {
		c.Put("http://cached.test/x", []byte("cached body"))

		on := true
		params, _ := json.Marshal(rpc.FetchParams{URL: "http://cached.test/x", Cache: &on})
		req := &rpc.Request{ID: json.RawMessage(`1`), Method: rpc.MethodFetch, Params: params}

		disp.Handle(context.Background(), req, p)

		responses := get()
		Expect(responses).To(HaveLen(1))
		Expect(responses[0].Result).To(Equal("cached body"))
	})

	It("rejects update_config with an unknown key", func() {
		params, _ := json.Marshal(map[string]int{"not_a_real_key": 1})
		req := &rpc.Request{ID: json.RawMessage(`1`), Method: rpc.MethodUpdateConfig, Params: params}

		retryable := disp.Handle(context.Background(), req, p)
		Expect(retryable).To(BeFalse())

		responses := get()
		Expect(responses).To(HaveLen(1))
		Expect(responses[0].Err).NotTo(BeNil())
		Expect(responses[0].Err.Code).To(Equal(rpc.CodeInternal))
	})

	It("reports method not found for an unrecognized method", func() {
		req := &rpc.Request{ID: json.RawMessage(`1`), Method: "bogus"}

		disp.Handle(context.Background(), req, p)

		responses := get()
		Expect(responses).To(HaveLen(1))
		Expect(responses[0].Err.Code).To(Equal(rpc.CodeMethodNotFound))
	})

	It("requeues every coalesced request at a failing class when the fetch fails", func() {
		req := fetchReq("1", "http://127.0.0.1:1/unreachable")

		retryable := disp.Handle(context.Background(), req, p)
		Expect(retryable).To(BeTrue())
		Expect(get()).To(BeEmpty())
		Expect(q.Len()).To(Equal(1))

		entry, ok := q.Get(context.Background())
		Expect(ok).To(BeTrue())
		Expect(entry.Class).To(Equal(queue.ClassFailingFetch))
	})
})

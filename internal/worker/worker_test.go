package worker

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/eludehq/elude/internal/config"
	"github.com/eludehq/elude/internal/proxy"
	"github.com/eludehq/elude/internal/queue"
)

func TestWorker(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "worker")
}

// forwardProxy builds a minimal HTTP forward proxy. When reportedIP is
// non-empty it always answers with {"ip": reportedIP} regardless of the
// request, modeling PROXY_TEST_URL; otherwise it actually forwards the
// request (absolute-form request line) to its real destination.
func forwardProxy(reportedIP string) (*httptest.Server, *proxy.Proxy) {
	fwd := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reportedIP != "" {
			body, _ := json.Marshal(map[string]string{"ip": reportedIP})
			w.Write(body)
			return
		}
		resp, err := http.Get(r.URL.String())
		if err != nil {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()
		io.Copy(w, resp.Body)
	}))

	host, portStr, _ := net.SplitHostPort(fwd.Listener.Addr().String())
	port, _ := strconv.ParseUint(portStr, 10, 16)
	return fwd, &proxy.Proxy{Host: host, Port: uint16(port)}
}

var _ = Describe("Worker.selfTest", func() {
	It("trusts a proxy that echoes back its own host as the reported IP", func() {
		fwd, p := forwardProxy("127.0.0.1")
		defer fwd.Close()
		p.Host = "127.0.0.1"

		cfg := config.Default()
		cfg.ProxyTestURL = "http://example.test/ignored"
		snap := config.NewSnapshot(cfg)

		w := New(p, queue.New(0), nil, proxy.NewSemaphore(0), snap, nil, nil, nil)
		Expect(w.selfTest(context.Background())).To(BeTrue())
	})

	It("terminates a proxy that reports a mismatched IP", func() {
		fwd, p := forwardProxy("203.0.113.9")
		defer fwd.Close()

		cfg := config.Default()
		cfg.ProxyTestURL = "http://example.test/ignored"
		snap := config.NewSnapshot(cfg)

		w := New(p, queue.New(0), nil, proxy.NewSemaphore(0), snap, nil, nil, nil)
		Expect(w.selfTest(context.Background())).To(BeFalse())
	})

	It("terminates a proxy that fails the transport entirely", func() {
		p := &proxy.Proxy{Host: "127.0.0.1", Port: 1}

		cfg := config.Default()
		cfg.ProxyTestTimeout = 50 * time.Millisecond
		snap := config.NewSnapshot(cfg)

		w := New(p, queue.New(0), nil, proxy.NewSemaphore(0), snap, nil, nil, nil)
		Expect(w.selfTest(context.Background())).To(BeFalse())
	})
})

var _ = Describe("Worker.Run", func() {
	It("calls onTerminate exactly once when the proxy never passes self-test", func() {
		p := &proxy.Proxy{Host: "127.0.0.1", Port: 1}

		cfg := config.Default()
		cfg.ProxyTestTimeout = 20 * time.Millisecond
		snap := config.NewSnapshot(cfg)

		terminated := make(chan *proxy.Proxy, 1)
		w := New(p, queue.New(0), nil, proxy.NewSemaphore(0), snap, nil, func(dead *proxy.Proxy) {
			terminated <- dead
		}, nil)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		w.Run(ctx)

		select {
		case got := <-terminated:
			Expect(got).To(Equal(p))
		default:
			Fail("onTerminate was not called")
		}
	})
})

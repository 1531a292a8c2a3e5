// Command eluded runs the proxied fetch broker: it accepts fetch and
// prefetch requests over one or more transports and serves them through
// a rotating pool of proxies harvested from public proxy-listing sites.
//
// Usage:
//
//	eluded serve --config /etc/eluded/config.yaml
//	eluded version
package main

func main() {
	Execute()
}

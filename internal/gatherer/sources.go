package gatherer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
)

// hostPortRE finds host/port pairs inside loosely-HTML-tabular text,
// written either as "host:port" or as host and port in adjacent table
// cells ("host</td><td>port"). HTML-parsing fidelity for any given
// listing site is out of scope; every Source only needs to yield a
// stream of candidate tuples, however it gets there.
var hostPortRE = regexp.MustCompile(`(\d{1,3}(?:\.\d{1,3}){3})(?::|</td>\s*<td[^>]*>)(\d{2,5})`)

func extractCandidates(body []byte) []Candidate {
	matches := hostPortRE.FindAllSubmatch(body, -1)
	out := make([]Candidate, 0, len(matches))
	for _, m := range matches {
		port, err := strconv.ParseUint(string(m[2]), 10, 16)
		if err != nil {
			continue
		}
		out = append(out, Candidate{Host: string(m[1]), Port: uint16(port)})
	}
	return out
}

// CheckerProxySource scrapes a single "elite HTTP proxies" listing page
// from checkerproxy.net.
type CheckerProxySource struct {
	URL string // defaults to http://checkerproxy.net/all_proxy when empty
}

func (s *CheckerProxySource) Name() string { return "checkerproxy" }

func (s *CheckerProxySource) Fetch(ctx context.Context) ([]Candidate, error) {
	url := s.URL
	if url == "" {
		url = "http://checkerproxy.net/all_proxy"
	}

	body, err := getBody(ctx, url)
	if err != nil {
		return nil, err
	}
	return extractCandidates(body), nil
}

// LetUsHideSource walks a paginated proxy listing at letushide.com,
// terminating when the first row of page N repeats page N-1's first
// row, or after 20 pages.
type LetUsHideSource struct {
	BaseURL string // defaults to http://letushide.com/filter/http,hap,all when empty
}

func (s *LetUsHideSource) Name() string { return "letushide" }

const maxPaginatedPages = 20

func (s *LetUsHideSource) Fetch(ctx context.Context) ([]Candidate, error) {
	base := s.BaseURL
	if base == "" {
		base = "http://letushide.com/filter/http,hap,all"
	}

	var all []Candidate
	var lastFirstRow string

	for page := 1; page <= maxPaginatedPages; page++ {
		body, err := getBody(ctx, fmt.Sprintf("%s/%d/list_of_free_HTTP_High_Anonymity_proxy_servers", base, page))
		if err != nil {
			return all, err
		}

		candidates := extractCandidates(body)
		if len(candidates) == 0 {
			break
		}

		firstRow := fmt.Sprintf("%s:%d", candidates[0].Host, candidates[0].Port)
		if firstRow == lastFirstRow {
			break
		}
		lastFirstRow = firstRow

		all = append(all, candidates...)
	}

	return all, nil
}

func getBody(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

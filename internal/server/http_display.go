package server

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
)

// writeBanner prints the endpoint table and the request guards of the
// hosted service. It goes to stdout on startup, next to the structured log.
func (s *Server) writeBanner(out io.Writer) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "jobpilot %s %s\n", s.Service.Name(), s.Version)
	for _, r := range s.endpointTable() {
		fmt.Fprintf(tw, "  %s\t%s\n", r.Pattern, r.Summary)
	}
	fmt.Fprintln(tw)

	for _, line := range s.guards() {
		fmt.Fprintf(tw, "%s:\t%s\n", line[0], line[1])
	}
	_ = tw.Flush()

	if len(s.APIKeys) == 0 {
		if s.InsecureNoAuth {
			s.Logger.Warn("No API keys configured and insecureNoAuth is set, authentication is disabled")
		} else {
			s.Logger.Warn("No API keys configured, every request will be rejected with 401")
		}
	}
}

// endpointTable lists the built-in routes first, then the service routes
// sorted by pattern.
func (s *Server) endpointTable() []Route {
	table := []Route{
		{Pattern: "GET /", Summary: "service capabilities"},
		{Pattern: "GET /health", Summary: "status, uptime and feature flags"},
		{Pattern: "GET /stats", Summary: "per-endpoint request counters"},
	}
	if s.inbox != nil {
		table = append(table, Route{Pattern: "POST /message/inbox", Summary: "messages forwarded by peer services"})
	}

	routes := s.Service.Routes()
	sort.Slice(routes, func(i, j int) bool { return routes[i].Pattern < routes[j].Pattern })
	return append(table, routes...)
}

func (s *Server) guards() [][2]string {
	auth := "no keys configured, all requests rejected"
	switch n := len(s.APIKeys); {
	case n > 0:
		auth = fmt.Sprintf("%d keys (X-API-Key header or api_key query)", n)
	case s.InsecureNoAuth:
		auth = "disabled (insecureNoAuth), endpoints are public"
	}

	size := "unlimited"
	if s.MaxRequestSize > 0 {
		size = fmt.Sprintf("%.1f MB", float64(s.MaxRequestSize)/(1<<20))
	}

	deadline := "none"
	if s.RequestTimeout > 0 {
		deadline = s.RequestTimeout.String()
	}

	limit := "disabled"
	if s.RateLimit != nil && s.RateLimit.Enabled {
		by := "ip"
		switch {
		case s.RateLimit.ByAPIKey && s.RateLimit.ByIP:
			by = "api key, then ip"
		case s.RateLimit.ByAPIKey:
			by = "api key"
		}
		limit = fmt.Sprintf("%d/min, burst %d, per %s", s.RateLimit.RequestsPerMin, s.RateLimit.BurstCapacity, by)
	}

	return [][2]string{
		{"auth", auth},
		{"request size", size},
		{"request deadline", deadline},
		{"rate limit", limit},
	}
}

// Package metrics exposes the Prometheus counters and gauges required
// by §7's observability policy, grounded on AdGuardHome's
// internal/metrics/dns.go (package-level CounterVec/Gauge + a Register
// function) and the metrics struct in Brightgate's ap.dns4d.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// DNS cache decision labels, matching §7 exactly.
const (
	ResultHit             = "HIT"
	ResultMiss            = "MISS"
	ResultExpired         = "EXPIRED"
	ResultUncachableClass = "UNCACHABLE_CLASS"
)

// DNSCacheResults counts every cache decision made by DnsCache.HandleQuery.
var DNSCacheResults = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "dns_cache",
	Help: "DNS out-query cache decisions by result.",
}, []string{"result"})

// DNSCacheSize tracks the number of entries in the DNS cache after every
// mutation (§7, invariant 7).
var DNSCacheSize = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "dns_cache_size",
	Help: "Number of entries currently held in the DNS out-query cache.",
})

// DHCPPacketsDropped counts recoverable per-packet DHCP failures by
// reason, covering the "log and drop" policy of §4.3/§7.
var DHCPPacketsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "dhcp_packets_dropped",
	Help: "DHCP packets dropped after a recoverable per-packet error, by reason.",
}, []string{"reason"})

// Register attaches every metric in this package to registry.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(DNSCacheResults, DNSCacheSize, DHCPPacketsDropped)
}

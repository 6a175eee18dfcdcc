// Package metricsx holds helpers shared by the Prometheus metric structs.
package metricsx

import "github.com/prometheus/client_golang/prometheus"

// Namespace prefixes every metric exported by the server.
const Namespace = "voxelnet"

// RegisterOrReuse registers c with reg. If an equal collector is already
// registered the existing one is returned, so building a second server in the
// same process keeps exporting. Other registration errors panic.
func RegisterOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

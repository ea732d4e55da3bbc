// Command qprism runs the QPRISM tile-delivery research testbed: booting
// scheduler/server variants, replaying viewport traces against them, and
// exporting completeness and latency metrics.
package main

import "github.com/icemaian/qprism/internal/cmd"

func main() {
	cmd.Execute()
}

// Command clawee-core runs the gate sidecar's constructors outside of any
// HTTP ingress layer: it loads catalogs, wires the pipeline, and exposes the
// conformance and reload operations a surrounding ingress process would call
// into.
package main

import "github.com/clawee/clawee-core/cmd/clawee-core/cmd"

func main() {
	cmd.Execute()
}

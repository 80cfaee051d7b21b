// Package main is the entry point for votechain mini (vcm).
// The command tree lives in internal/cli; `vcm serve` starts the voting API
// and dashboard, the other commands audit a stored chain offline.
package main

import "votechain.mini/vcm/internal/cli"

func main() {
	cli.Execute()
}

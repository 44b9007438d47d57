// Command wfgraph converts workflow step payloads and n8n-style workflow
// documents into editor graphs.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

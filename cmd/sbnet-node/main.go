// Command sbnet-node runs a server or client endpoint from configuration.
package main

import "os"

func main() {
	os.Exit(run(ParseFlags(os.Args[1:])))
}

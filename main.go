// Command goshawk scans cloud audit log exports against Sigma
// detection rules.
package main

import "goshawk/cmd"

func main() {
	cmd.Execute()
}

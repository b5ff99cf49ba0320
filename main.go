// Package main runs the sponsored transaction benchmark.
package main

import "github.com/skylenet/aa-benchmark/cmd"

func main() {
	cmd.Execute()
}

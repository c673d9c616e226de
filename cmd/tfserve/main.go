// tfserve packages, runs and serves Transcriptformer models and provisions
// the reference datasets used to evaluate them.
//
// Usage:
//
//	tfserve package --model-variant=<variant> --checkpoint-path=<ckpt> [--output-dir=<dir>]
//	tfserve predict --model-path=<pkg> --input-file=<h5ad> --output-file=<path>
//	tfserve serve --model-path=<pkg> [--addr=:8080]
//	tfserve datasets list
//	tfserve datasets fetch <name>... [--version=v2] [--force] [--path=<file>] [--all]
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

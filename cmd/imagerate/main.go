// Command imagerate scores images against a remote aesthetic scoring service
// and keeps a small rolling history of past ratings.
//
// Usage:
//
//	imagerate rate photo.jpg
//	imagerate history --export-dir ./thumbs
//	imagerate export-score photo.jpg --score 7.4
//	imagerate saliency photo.jpg -o attention.png
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	ctx := context.Background()
	if err := run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err.Message)
		os.Exit(err.Code)
	}
}

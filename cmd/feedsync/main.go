// Command feedsync drives a feed session from the terminal: sign in, print
// the feed, like posts, follow users and watch notifications arrive.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

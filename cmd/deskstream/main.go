// Command deskstream captures the desktop, encodes it and forwards the
// encoded frames over RTP or a WebRTC track.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// Command meetprobe joins an EduCast meeting from the terminal. It is a real
// participant: it negotiates a WebRTC data channel with every other member.
package main

import (
	"os"

	"github.com/loksaikotini/EduCast/cmd/meetprobe/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

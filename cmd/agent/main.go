package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os/signal"
	"syscall"

	"github.com/kbinani/screenshot"

	"rdpgate/internal/agent"
	"rdpgate/internal/constants"
)

func main() {
	listen := flag.String("listen", constants.DefaultAgentListen, "address to accept gateway connections on")
	fps := flag.Int("fps", constants.DefaultAgentFPS, "capture rate in frames per second")
	display := flag.Int("display", 0, "index of the display to capture")
	e2ee := flag.Bool("e2ee", false, "require an encrypted link")
	flag.Parse()

	if n := screenshot.NumActiveDisplays(); *display >= n {
		log.Fatalf("Display %d not available (%d active)", *display, n)
	}

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", *listen, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bounds := screenshot.GetDisplayBounds(*display)
	log.Printf("🖥  Capturing display %d (%dx%d) at %d fps", *display, bounds.Dx(), bounds.Dy(), *fps)
	log.Printf("🚀 %s agent listening on %s (e2ee: %t)", constants.AppName, ln.Addr(), *e2ee)

	srv := agent.NewServer(agent.Options{
		FPS:      *fps,
		E2EE:     *e2ee,
		Capturer: agent.ScreenCapturer{Display: *display},
	})
	if err := srv.Serve(ctx, ln); err != nil {
		log.Fatalf("Agent error: %v", err)
	}
	log.Println("✅ Agent stopped")
}

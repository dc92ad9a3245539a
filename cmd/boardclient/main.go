// Command boardclient joins a board from the terminal. It can draw a test
// stroke and write what the board shows to a PNG file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"syncboard/internal/canvas"
	"syncboard/internal/client"
	"syncboard/internal/discovery"
	"syncboard/internal/models"
	"syncboard/internal/protocol"
)

func main() {
	var (
		url      = flag.String("url", "", "relay websocket url, e.g. ws://localhost:8090/ws")
		token    = flag.String("token", "", "auth token from /api/users/login")
		username = flag.String("username", "", "guest display name")
		session  = flag.String("session", "lobby", "board to join")
		color    = flag.String("color", "", "pen color (#rrggbb)")
		demo     = flag.Bool("demo", false, "draw a diagonal stroke after joining")
		out      = flag.String("out", "", "write the board to this PNG before exiting")
		wait     = flag.Duration("wait", 2*time.Second, "how long to stay on the board")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	target := *url
	if target == "" {
		relays, err := discovery.Lookup(ctx, 3*time.Second)
		if err != nil {
			log.Fatalf("discover relays: %v", err)
		}
		if len(relays) == 0 {
			log.Fatalf("no relay found on the local network, pass -url")
		}
		log.Printf("using relay %s (%s)", relays[0].Instance, relays[0].Addr)
		target = fmt.Sprintf("ws://%s/ws", relays[0].Addr)
	}

	transport, err := client.Dial(ctx, client.DialOptions{
		URL:        target,
		Token:      *token,
		Username:   *username,
		MaxRetries: 5,
	})
	if err != nil {
		log.Fatalf("connect: %v", err)
	}

	joined := make(chan struct{}, 1)
	board := client.NewBoard(transport, client.Options{
		OnEvent: func(event string) {
			if event == protocol.EventSessionState {
				select {
				case joined <- struct{}{}:
				default:
				}
			}
		},
	})
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	runErr := make(chan error, 1)
	go func() { runErr <- board.Run(runCtx) }()
	<-board.Started()

	if err := board.Join(*session); err != nil {
		log.Fatalf("join: %v", err)
	}
	select {
	case <-joined:
	case err := <-runErr:
		log.Fatalf("board stopped: %v", err)
	case <-time.After(5 * time.Second):
		log.Fatalf("no session state from relay")
	}
	self := board.Self()
	log.Printf("joined %s as %s (%d members, %d actions)", board.SessionID(), self.Username, len(board.Members()), board.HistoryLen())

	if *color != "" {
		if err := board.SetColor(models.Color(*color)); err != nil {
			log.Fatalf("color: %v", err)
		}
	}
	if *demo {
		if err := board.BeginStroke(models.Point{X: 40, Y: 40}); err != nil {
			log.Fatalf("draw: %v", err)
		}
		for i := 1; i <= 20; i++ {
			_ = board.ExtendStroke(models.Point{X: 40 + float64(i*20), Y: 40 + float64(i*12)})
		}
		_ = board.EndStroke()
	}

	running := true
	select {
	case <-time.After(*wait):
	case <-ctx.Done():
	case err := <-runErr:
		running = false
		if err != nil && !errors.Is(err, client.ErrClosed) {
			log.Printf("board stopped: %v", err)
		} else {
			log.Printf("relay closed the connection")
		}
	}

	if *out != "" {
		if !running {
			log.Printf("board no longer running, %s not written", *out)
		} else if err := writePNG(*out, board.Actions()); err != nil {
			log.Fatalf("export: %v", err)
		} else {
			log.Printf("wrote %s", *out)
		}
	}
	if !running {
		return
	}
	if err := board.Leave(); err != nil {
		log.Printf("leave: %v", err)
	}
	// Run closes the transport on return, which flushes the leave frame.
	cancelRun()
	if err := <-runErr; err != nil && !errors.Is(err, client.ErrClosed) {
		log.Printf("board stopped: %v", err)
	}
}

func writePNG(path string, segments []models.StrokeSegment) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := canvas.ExportPNG(f, canvas.ExportOptions{}, segments); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

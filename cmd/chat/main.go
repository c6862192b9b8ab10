// Command chat is a terminal client for the roomchat relay. It stays joined
// to one room, reconnecting on its own, and manages rooms over HTTP.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/client"
)

const helpText = `commands:
  /rooms            list rooms
  /create <name>    create a room you own
  /delete <name>    delete a room you created
  /clear            clear the current room (creator only)
  /image <path>     send an image file
  /quit             leave
anything else is sent as a message`

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, styleError.Render(err.Error()))
		os.Exit(1)
	}
}

func run() error {
	serverURL := flag.String("server", "http://localhost:8080", "relay base URL")
	room := flag.String("room", "geral", "room to join")
	name := flag.String("name", os.Getenv("USER"), "display name")
	identityPath := flag.String("identity", client.DefaultIdentityPath(), "file holding this client's identity")
	origin := flag.String("origin", "http://localhost:8080", "Origin header sent with the handshake")
	verbose := flag.Bool("v", false, "log connection details")
	flag.Parse()

	identity, err := client.LoadOrCreateIdentity(*identityPath)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	out := os.Stdout
	conn, err := client.New(client.Options{
		URL:      strings.TrimRight(*serverURL, "/") + "/ws",
		Room:     *room,
		Identity: identity,
		Name:     *name,
		Origin:   *origin,
		Logger:   logger,
		OnChange: func(s client.State) { printf(out, "%s\n", renderState(s)) },
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := &session{
		conn:     conn,
		rooms:    client.NewRoomsAPI(*serverURL, nil),
		identity: identity,
		room:     strings.ToLower(strings.TrimSpace(*room)),
		out:      out,
		quit:     stop,
	}

	printf(out, "%s\n", stylePrompt.Sprintf("roomchat: joining #%s as %s (type /help)", s.room, *name))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range conn.Events() {
			if line := renderEvent(ev); line != "" {
				printf(out, "%s\n", line)
			}
		}
	}()
	go s.readInput(ctx, os.Stdin)

	err = conn.Run(ctx)
	<-done
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type session struct {
	conn     *client.Conn
	rooms    *client.RoomsAPI
	identity string
	room     string
	out      io.Writer
	quit     func()
}

func (s *session) readInput(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if !s.handleLine(ctx, scanner.Text()) {
			s.quit()
			return
		}
	}
	s.quit()
}

// handleLine runs one line of input. It returns false when the user quits.
func (s *session) handleLine(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}
	if !strings.HasPrefix(line, "/") {
		s.report(s.conn.SendMessage(line, ""))
		return true
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch cmd {
	case "/quit", "/exit":
		return false
	case "/help":
		printf(s.out, "%s\n", helpText)
	case "/rooms":
		rooms, err := s.rooms.List(opCtx)
		if err != nil {
			s.report(err)
			return true
		}
		renderRooms(s.out, rooms, s.room)
	case "/create":
		room, err := s.rooms.Create(opCtx, arg, s.identity)
		if err != nil {
			s.report(err)
			return true
		}
		printf(s.out, "%s\n", styleSystem.Sprintf("* created #%s", room.Name))
	case "/delete":
		if err := s.rooms.Delete(opCtx, arg, s.identity); err != nil {
			s.report(err)
			return true
		}
		printf(s.out, "%s\n", styleSystem.Sprintf("* deleted #%s", arg))
	case "/clear":
		s.report(s.conn.Send(chat.ClearRoom{}))
	case "/image":
		data, err := os.ReadFile(arg)
		if err != nil {
			s.report(err)
			return true
		}
		image, err := chat.ImageDataURL(data)
		if err == nil {
			err = chat.ValidateImage(image, chat.DefaultMaxImageBytes)
		}
		if err != nil {
			s.report(err)
			return true
		}
		s.report(s.conn.SendMessage("", image))
	default:
		printf(s.out, "%s\n", styleError.Sprintf("unknown command %s (try /help)", cmd))
	}
	return true
}

func (s *session) report(err error) {
	switch {
	case err == nil:
	case errors.Is(err, client.ErrNotOpen):
		printf(s.out, "%s\n", styleError.Render("not connected; message not sent"))
	default:
		printf(s.out, "%s\n", styleError.Render(err.Error()))
	}
}

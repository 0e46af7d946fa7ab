// Command pyshare-client is a terminal edit surface for a PyShare coordinator.
//
// Each line read from stdin replaces the whole shared buffer. A line written as a Go
// string literal ("x=1\ny=2") is unquoted first so multi-line buffers can be typed.
// Buffer updates and connection status are printed to stdout.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/golang/glog"

	"pyshare/internal/config"
	"pyshare/internal/discovery"
	"pyshare/internal/session"
)

// terminal renders pushes to an output stream.
type terminal struct {
	mu  sync.Mutex
	out io.Writer
}

func (t *terminal) Render(code string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "--- buffer ---\n%s\n--------------\n", code)
}

func (t *terminal) status(ev session.StatusEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case ev.Exhausted:
		fmt.Fprintf(t.out, "[disconnected] gave up after %d attempts\n", ev.Attempt)
	case ev.Err != nil:
		fmt.Fprintf(t.out, "[%s] %v\n", ev.State, ev.Err)
	default:
		fmt.Fprintf(t.out, "[%s]\n", ev.State)
	}
}

func main() {
	_ = flag.Set("logtostderr", "true")
	cfg, err := config.ParseClient(flag.CommandLine, os.Args[1:])
	if err != nil {
		glog.Exitf("parse flags: %v", err)
	}
	defer glog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		glog.Exitf("client: %v", err)
	}
}

func run(ctx context.Context, cfg config.Client, in io.Reader, out io.Writer) error {
	url := cfg.URL
	if url == "" {
		findCtx, cancel := context.WithTimeout(ctx, cfg.DiscoverWait)
		found, err := discovery.Find(findCtx)
		cancel()
		if err != nil {
			return err
		}
		url = found
	}

	opts := []session.Option{session.WithPolicy(session.Policy{
		Initial:     cfg.ReconnectDelay,
		Max:         cfg.ReconnectMax,
		Multiplier:  2,
		MaxAttempts: cfg.ReconnectTries,
	})}
	if cfg.Origin != "" {
		opts = append(opts, session.WithHeader(http.Header{"Origin": []string{cfg.Origin}}))
	}

	term := &terminal{out: out}
	s := session.New(url, term, opts...)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- s.Run(runCtx) }()
	go func() {
		for ev := range s.Status() {
			term.status(ev)
		}
	}()
	go readEdits(s, term, in)

	return <-runDone
}

// readEdits forwards stdin lines as full-buffer edits. Lines typed while the link is
// down only update the local mirror.
func readEdits(s *session.Session, term *terminal, in io.Reader) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		code := decodeLine(scanner.Text())
		sent, err := s.EmitLocalEdit(code)
		if err != nil {
			glog.Warningf("send edit: %v", err)
			continue
		}
		if !sent {
			term.mu.Lock()
			fmt.Fprintln(term.out, "[offline] edit kept locally, not sent")
			term.mu.Unlock()
		}
	}
}

func decodeLine(line string) string {
	if strings.HasPrefix(line, `"`) {
		if unquoted, err := strconv.Unquote(line); err == nil {
			return unquoted
		}
	}
	return line
}

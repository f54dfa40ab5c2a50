package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/urfave/cli/v2"

	"github.com/liut/inkwell/pkg/client"
	"github.com/liut/inkwell/pkg/settings"
)

const chatHelp = `commands:
  /list            show conversations
  /new [title]     start a conversation
  /use <id>        switch conversation
  /show            print the current transcript
  /quit            leave
anything else is sent to the assistant`

func runChat(cc *cli.Context) error {
	var opts []client.Option
	if token := cc.String("token"); len(token) > 0 {
		opts = append(opts, client.WithCookies(&http.Cookie{Name: settings.Current.CookieName, Value: token}))
	}
	tr, err := client.NewTransport(cc.String("api"), opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ctl := client.NewController(tr)
	if cid := cc.String("conversation"); len(cid) > 0 {
		ctl.Select(cid)
	} else if _, err = ctl.SelectDefault(ctx); err != nil {
		return err
	}

	r := &repl{ctl: ctl, out: os.Stdout}
	ctl.Observe(r.onChange)
	if err = r.show(ctx); err != nil {
		return err
	}
	fmt.Fprintln(r.out, chatHelp)
	return r.loop(ctx, os.Stdin)
}

type repl struct {
	ctl *client.Controller
	out io.Writer

	mu      sync.Mutex
	localID string
	printed int
}

// onChange prints the part of the current reply not yet on screen.
func (r *repl) onChange(snap client.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(snap.Local); n == 0 || snap.Local[n-1].ID != r.localID {
		return
	}
	if len(snap.Partial) > r.printed {
		fmt.Fprint(r.out, snap.Partial[r.printed:])
		r.printed = len(snap.Partial)
	}
}

func (r *repl) loop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		cmd, arg, _ := strings.Cut(line, " ")
		var err error
		switch cmd {
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(r.out, chatHelp)
		case "/list":
			err = r.list(ctx)
		case "/new":
			if _, err = r.ctl.Create(ctx, arg); err == nil {
				err = r.show(ctx)
			}
		case "/use":
			r.ctl.Select(strings.TrimSpace(arg))
			err = r.show(ctx)
		case "/show":
			err = r.show(ctx)
		default:
			err = r.send(ctx, line)
		}
		if err != nil {
			fmt.Fprintf(r.out, "error: %s\n", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (r *repl) send(ctx context.Context, text string) error {
	s, err := r.ctl.Send(ctx, text)
	if err != nil {
		return err
	}
	local := s.Snapshot().Local
	r.mu.Lock()
	r.localID, r.printed = local[len(local)-1].ID, 0
	r.mu.Unlock()

	err = s.Wait(ctx)
	r.onChange(s.Snapshot())
	fmt.Fprintln(r.out)
	return err
}

func (r *repl) list(ctx context.Context) error {
	r.ctl.Registry().Invalidate()
	items, err := r.ctl.Registry().List(ctx)
	if err != nil {
		return err
	}
	active := r.ctl.Active()
	for _, cs := range items {
		mark := " "
		if cs.ID == active {
			mark = "*"
		}
		fmt.Fprintf(r.out, "%s %s  %s  %s\n", mark, cs.ID, cs.CreatedAt.Local().Format("2006-01-02 15:04"), cs.Title)
	}
	return nil
}

func (r *repl) show(ctx context.Context) error {
	v, err := r.ctl.View(ctx)
	if err != nil {
		return err
	}
	if len(v.ConversationID) == 0 {
		fmt.Fprintln(r.out, "no conversation yet, the first message starts one")
		return nil
	}
	fmt.Fprintf(r.out, "[%s]\n", v.ConversationID)
	for _, m := range v.Messages {
		fmt.Fprintf(r.out, "%s: %s\n", m.Role, m.Content)
	}
	if len(v.Partial) > 0 {
		fmt.Fprintf(r.out, "assistant: %s\n", v.Partial)
	}
	if v.Err != nil {
		fmt.Fprintf(r.out, "(%s: %s)\n", v.Status, v.Err)
	}
	return nil
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"draftCollab/backend/internal/client"
	"draftCollab/backend/internal/ot/buffer"
	"draftCollab/backend/internal/protocol"
	"draftCollab/backend/internal/suggest"
)

var (
	noSuggest bool

	joinCmd = &cobra.Command{
		Use:   "join [docId]",
		Short: "Join a draft room and edit it from stdin",
		Long: `Each plain line replaces the whole draft. Commands:
  /title <text>   change the title
  /latex <text>   replace the LaTeX body
  /cursor <n>     move the cursor
  /cut <at> <n>   delete n characters starting at offset at
  /accept         accept the current suggestion
  /dismiss        dismiss the current suggestion
  /save           flush to storage now
  /resync         fetch the authoritative document
  /show           print local state`,
		Args: cobra.ExactArgs(1),
		RunE: runJoin,
	}
)

func init() {
	joinCmd.Flags().BoolVar(&noSuggest, "no-suggest", false, "disable inline suggestions")
}

func runJoin(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pipeline *suggest.Pipeline
	if !noSuggest {
		pipeline = suggest.New(suggest.NewHTTPFetcher(httpURL, token), suggest.Options{
			OnOverlay: func(o suggest.Overlay) {
				if o.Visible {
					fmt.Printf("  suggestion @%d: %q (/accept)\n", o.Anchor, o.Text)
				}
			},
		})
	}

	ctrl := client.NewController(&client.WSDialer{BaseURL: serverURL, DocID: args[0], Token: token}, client.ControllerOptions{
		OnMessage: printMessage,
		Suggest:   pipeline,
		Supervisor: client.SupervisorOptions{
			OnStatus: func(s client.Status) {
				if s.State == client.Reconnecting {
					fmt.Printf("* reconnecting (attempt %d)\n", s.Attempt)
					return
				}
				fmt.Printf("* %s\n", s.State)
			},
		},
	})

	go readInput(ctx, ctrl)
	go heartbeat(ctx, ctrl)
	err := ctrl.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func heartbeat(ctx context.Context, ctrl *client.Controller) {
	t := time.NewTicker(20 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = ctrl.Heartbeat()
		}
	}
}

func readInput(ctx context.Context, ctrl *client.Controller) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := sc.Text()
		cmd, rest, _ := strings.Cut(line, " ")
		var err error
		switch cmd {
		case "/title":
			err = ctrl.SetTitle(rest)
		case "/latex":
			err = ctrl.EditLatex(rest)
		case "/cursor":
			n, perr := strconv.Atoi(rest)
			if perr != nil {
				fmt.Println("usage: /cursor <n>")
				continue
			}
			err = ctrl.MoveCursor(n, nil)
		case "/cut":
			var at, n int
			if _, perr := fmt.Sscanf(rest, "%d %d", &at, &n); perr != nil {
				fmt.Println("usage: /cut <at> <n>")
				continue
			}
			out, cerr := buffer.Cut(ctrl.Snapshot().Content, at, n)
			if cerr != nil {
				fmt.Printf("! %v\n", cerr)
				continue
			}
			err = ctrl.Edit(out, at)
		case "/accept":
			var ok bool
			ok, err = ctrl.AcceptSuggestion()
			if !ok && err == nil {
				fmt.Println("no suggestion to accept")
			}
		case "/dismiss":
			ctrl.DismissSuggestion()
		case "/save":
			err = ctrl.Save()
		case "/resync":
			err = ctrl.Resync()
		case "/show":
			s := ctrl.Snapshot()
			fmt.Printf("title=%q rev=%d saving=%v status=%s\n%s\n", s.Title, s.Revision, s.Saving, s.Status.State, s.Content)
		default:
			err = ctrl.Edit(line, len([]rune(line)))
		}
		if err != nil {
			fmt.Printf("! %v\n", err)
		}
	}
}

func printMessage(m protocol.ServerMessage) {
	switch m.Type {
	case protocol.TypeInit:
		fmt.Printf("joined %s as %s, rev %d, %d online\n%s\n", m.DocID, m.SessionID, m.Revision, len(m.ActiveUsers), m.Content)
	case protocol.TypeDocument:
		fmt.Printf("document rev %d\n%s\n", m.Revision, m.Content)
	case protocol.TypeOperation:
		fmt.Printf("[%s] %s (rev %d)\n%s\n", m.ParticipantID, m.ContentType, m.Revision, m.Content)
	case protocol.TypeUserJoin, protocol.TypeUserLeave:
		names := make([]string, 0, len(m.ActiveUsers))
		for _, u := range m.ActiveUsers {
			names = append(names, u.DisplayName)
		}
		fmt.Printf("%s: %s\n", m.Type, strings.Join(names, ", "))
	case protocol.TypeCursor:
		fmt.Printf("cursor %s @%d\n", m.DisplayName, m.Position)
	case protocol.TypeTitleUpdate:
		fmt.Printf("title: %s\n", m.Title)
	case protocol.TypeSaved:
		fmt.Printf("saved rev %d\n", m.Revision)
	case protocol.TypeError:
		fmt.Printf("! %s %s\n", m.Code, m.Message)
	}
}

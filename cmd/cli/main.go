// Command chitcall-cli is a headless Chit-Call client. It chats and places
// calls with synthetic media, which makes it useful for exercising a server
// without a browser.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/msniranjan18/chit-call/config"
	"github.com/msniranjan18/chit-call/pkg/client"
	"github.com/msniranjan18/chit-call/pkg/events"
	"github.com/msniranjan18/chit-call/pkg/models"
)

const help = `commands:
  online                    list online users
  list                      list conversations, most recent first
  open <user>               show the latest messages with user
  older <user>              load the previous page of history
  msg <user> <text>         send a message
  retry <user> <client-id>  resend a failed message
  read <user>               mark the conversation read
  call <user> [video]       start a call
  accept [video]            answer the ringing call
  reject                    decline the ringing call
  hangup                    end the current call
  mute | camera             toggle local audio or video
  notes                     show and dismiss notifications
  quit`

func main() {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	username := flag.String("user", "", "username")
	password := flag.String("password", "", "password")
	register := flag.Bool("register", false, "create the account before logging in")
	iceServers := flag.String("ice", "", "comma separated STUN/TURN URLs")
	denyMedia := flag.Bool("deny-media", false, "refuse media access, as if the user declined")
	flag.Parse()

	logger := config.Load().Log.NewLogger()
	if *username == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "-user and -password are required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := connect(ctx, *server, *username, *password, *register, splitList(*iceServers), *denyMedia, logger)
	if err != nil {
		logger.Error("Failed to connect", "error", err)
		os.Exit(1)
	}
	defer s.close(context.Background())

	fmt.Printf("logged in as %s (%s)\n%s\n", s.me.Username, s.me.ID, help)
	s.repl(ctx, os.Stdin)
}

type session struct {
	api      *client.API
	socket   *client.Socket
	me       models.User
	notes    *client.Notifications
	roster   *client.Roster
	delivery *client.Delivery
	calls    *client.CallController
	logger   *slog.Logger

	mu     sync.Mutex
	names  map[string]string // user id -> username
	pagers map[string]*client.Pager
}

func connect(ctx context.Context, baseURL, username, password string, register bool, ice []string, denyMedia bool, logger *slog.Logger) (*session, error) {
	api := client.NewAPI(baseURL, nil)

	var (
		auth *models.AuthResponse
		err  error
	)
	if register {
		auth, err = api.Register(ctx, username, password, "")
	} else {
		auth, err = api.Login(ctx, username, password)
	}
	if err != nil {
		return nil, err
	}

	sock, err := client.Dial(ctx, baseURL, auth.Token, logger)
	if err != nil {
		return nil, err
	}

	peers, err := client.NewPeerConnectionFactory(ice)
	if err != nil {
		sock.Close()
		return nil, err
	}

	notes := client.NewNotifications()
	s := &session{
		api:      api,
		socket:   sock,
		me:       auth.User,
		notes:    notes,
		roster:   client.NewRoster(logger),
		delivery: client.NewDelivery(api, auth.User.ID, client.NewConversationList(auth.User.ID), notes, nil, logger),
		calls:    client.NewCallController(sock, &client.SyntheticMedia{Deny: denyMedia}, peers, notes, logger,
			client.WithLocalUser(auth.User.ID)),
		logger:   logger,
		names:    map[string]string{auth.User.ID: auth.User.Username},
		pagers:   make(map[string]*client.Pager),
	}

	s.roster.Bind(sock)
	s.delivery.Bind(sock)
	s.calls.Bind(sock)
	s.watch()

	convs, err := api.Conversations(ctx)
	if err != nil {
		s.close(ctx)
		return nil, err
	}
	s.delivery.Conversations().Replace(convs)
	return s, nil
}

func (s *session) watch() {
	s.notes.Subscribe(func(n client.Notification) {
		fmt.Printf("! %s: %s\n", n.Action, n.Message)
	})
	s.roster.OnChange(func(st events.UserStatus) {
		state := "offline"
		if st.IsOnline {
			state = "online"
		}
		fmt.Printf("* %s is %s\n", s.name(context.Background(), st.UserID), state)
	})
	s.calls.OnIncoming(func(info client.CallInfo) {
		fmt.Printf("* incoming call from %s (accept/reject)\n", s.name(context.Background(), info.PeerID))
	})
	s.calls.OnStateChange(func(info client.CallInfo) {
		if info.State == client.CallIdle && info.EndReason != "" {
			fmt.Printf("* call ended: %s\n", info.EndReason)
			return
		}
		fmt.Printf("* call %s\n", info.State)
	})
	s.socket.On(events.TypeNewMessage, func(env events.Envelope) {
		var msg events.NewMessage
		if env.Decode(&msg) != nil {
			return
		}
		fmt.Printf("[%s] %s\n", s.name(context.Background(), msg.SenderID), msg.Content)
	})
	s.socket.On(events.TypeTyping, func(env events.Envelope) {
		var t events.Typing
		if env.Decode(&t) == nil && t.IsTyping {
			fmt.Printf("* %s is typing\n", s.name(context.Background(), env.From))
		}
	})
}

func (s *session) close(ctx context.Context) {
	s.calls.Hangup()
	if err := s.api.Logout(ctx); err != nil {
		s.logger.Debug("Logout failed", "error", err)
	}
	s.socket.Close()
}

func (s *session) repl(ctx context.Context, in *os.File) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.socket.Done():
			fmt.Println("connection closed")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := s.run(ctx, line); quit {
				return
			}
		}
	}
}

func (s *session) run(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := fields[0], fields[1:]

	var err error
	switch cmd {
	case "quit", "exit":
		return true
	case "help":
		fmt.Println(help)
	case "online":
		for _, id := range s.roster.Online() {
			if id != s.me.ID {
				fmt.Println(" ", s.name(ctx, id))
			}
		}
	case "list":
		for _, c := range s.delivery.Conversations().Ordered() {
			preview := ""
			if c.LastMessage != nil {
				preview = c.LastMessage.Content
			}
			fmt.Printf("  %-16s %3d unread  %s\n", s.name(ctx, c.Peer(s.me.ID)), c.UnreadCount, preview)
		}
	case "open":
		err = s.open(ctx, args)
	case "older":
		err = s.older(ctx, args)
	case "msg":
		err = s.send(ctx, args)
	case "retry":
		err = s.retry(ctx, args)
	case "read":
		err = s.read(ctx, args)
	case "call":
		err = s.call(ctx, args)
	case "accept":
		err = s.calls.Accept(ctx, len(args) > 0 && args[0] == "video")
	case "reject":
		err = s.calls.Reject()
	case "hangup":
		s.calls.Hangup()
	case "mute":
		fmt.Println("muted:", s.calls.ToggleMute())
	case "camera":
		fmt.Println("camera off:", s.calls.ToggleCamera())
	case "notes":
		for _, n := range s.notes.List() {
			fmt.Printf("  %s: %s\n", n.Action, n.Message)
			s.notes.Dismiss(n.ID)
		}
	default:
		fmt.Println("unknown command; try help")
	}

	if err != nil {
		fmt.Println("error:", err)
	}
	return false
}

func (s *session) conversationWith(ctx context.Context, username string) (*models.Conversation, error) {
	peer, err := s.lookup(ctx, username)
	if err != nil {
		return nil, err
	}
	conv, err := s.api.OpenConversation(ctx, peer.ID)
	if err != nil {
		return nil, err
	}
	if _, ok := s.delivery.Conversations().Get(conv.ID); !ok {
		s.delivery.Conversations().Upsert(*conv)
	}
	return conv, nil
}

func (s *session) pager(conversationID string) *client.Pager {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pagers[conversationID]
	if !ok {
		list := s.delivery.List(conversationID)
		p = client.NewPager(s.api, list, newTerminalView(list), conversationID, client.WithBottomThreshold(2))
		s.pagers[conversationID] = p
		s.delivery.Watch(conversationID, p)
	}
	return p
}

func (s *session) open(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: open <user>")
	}
	conv, err := s.conversationWith(ctx, args[0])
	if err != nil {
		return err
	}
	if err := s.pager(conv.ID).LoadInitial(ctx); err != nil {
		return err
	}
	s.print(ctx, conv.ID)
	return nil
}

func (s *session) older(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: older <user>")
	}
	conv, err := s.conversationWith(ctx, args[0])
	if err != nil {
		return err
	}
	loaded, err := s.pager(conv.ID).LoadOlder(ctx)
	if err != nil {
		return err
	}
	if !loaded {
		fmt.Println("  (no older messages)")
		return nil
	}
	s.print(ctx, conv.ID)
	return nil
}

func (s *session) print(ctx context.Context, conversationID string) {
	for _, e := range s.delivery.List(conversationID).Entries() {
		status := ""
		switch {
		case e.Status == client.StatusFailed:
			status = fmt.Sprintf(" (failed, retry %s)", e.ClientID)
		case e.Status == client.StatusPending:
			status = " (sending)"
		case e.SenderID == s.me.ID && len(e.ReadBy) > 1:
			status = " (read)"
		}
		fmt.Printf("  %s %s: %s%s\n", e.CreatedAt.Local().Format("15:04"), s.name(ctx, e.SenderID), e.Content, status)
	}
}

func (s *session) send(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: msg <user> <text>")
	}
	conv, err := s.conversationWith(ctx, args[0])
	if err != nil {
		return err
	}
	clientID, err := s.delivery.Send(ctx, conv.ID, strings.Join(args[1:], " "), nil)
	if err != nil {
		return fmt.Errorf("not sent (retry %s): %w", clientID, err)
	}
	return nil
}

func (s *session) retry(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: retry <user> <client-id>")
	}
	conv, err := s.conversationWith(ctx, args[0])
	if err != nil {
		return err
	}
	return s.delivery.Retry(ctx, conv.ID, args[1])
}

func (s *session) read(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: read <user>")
	}
	conv, err := s.conversationWith(ctx, args[0])
	if err != nil {
		return err
	}
	s.delivery.MarkReadLocal(conv.ID)
	receipt, err := s.api.MarkRead(ctx, conv.ID)
	if err != nil {
		return err
	}
	fmt.Printf("  marked %d messages read\n", len(receipt.MessageIDs))
	return nil
}

func (s *session) call(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: call <user> [video]")
	}
	peer, err := s.lookup(ctx, args[0])
	if err != nil {
		return err
	}
	if !s.roster.IsOnline(peer.ID) {
		fmt.Printf("  %s appears offline; trying anyway\n", peer.Username)
	}
	return s.calls.Call(ctx, peer.ID, len(args) > 1 && args[1] == "video")
}

// lookup resolves an exact username.
func (s *session) lookup(ctx context.Context, username string) (*models.User, error) {
	users, err := s.api.SearchUsers(ctx, username)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if strings.EqualFold(u.Username, username) {
			s.mu.Lock()
			s.names[u.ID] = u.Username
			s.mu.Unlock()
			return &u, nil
		}
	}
	return nil, fmt.Errorf("no user named %q", username)
}

// name returns the username for id, fetching it once.
func (s *session) name(ctx context.Context, id string) string {
	s.mu.Lock()
	name, ok := s.names[id]
	s.mu.Unlock()
	if ok {
		return name
	}
	u, err := s.api.User(ctx, id)
	if err != nil {
		return id
	}
	s.mu.Lock()
	s.names[id] = u.Username
	s.mu.Unlock()
	return u.Username
}

// terminalView treats every message as one line of a 20 line screen.
type terminalView struct {
	list *client.MessageList

	mu  sync.Mutex
	top float64
}

func newTerminalView(list *client.MessageList) *terminalView {
	return &terminalView{list: list}
}

func (v *terminalView) ScrollTop() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.top
}

func (v *terminalView) SetScrollTop(top float64) {
	v.mu.Lock()
	v.top = top
	v.mu.Unlock()
}

func (v *terminalView) ScrollHeight() float64 { return float64(v.list.Len()) }
func (v *terminalView) ClientHeight() float64 { return 20 }

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

//go:build mtproto

// Package mtproto adapts the gotd MTProto client to the capability
// surface the scraper consumes. Session material is kept in per-account
// files; peer access hashes are cached in memory from every response
// that carries them.
package mtproto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	tgclient "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/session"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/avykov/telescan/internal/telegram"
)

type Factory struct {
	appID   int
	appHash string
	dir     string
	logger  *slog.Logger
}

func NewFactory(appID int, appHash, sessionsDir string, logger *slog.Logger) *Factory {
	return &Factory{appID: appID, appHash: appHash, dir: sessionsDir, logger: logger}
}

func (f *Factory) NewClient(ctx context.Context, sessionName string) (telegram.Client, error) {
	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}

	dispatcher := tg.NewUpdateDispatcher()
	inner := tgclient.NewClient(f.appID, f.appHash, tgclient.Options{
		SessionStorage: &session.FileStorage{
			Path: filepath.Join(f.dir, sessionName+".json"),
		},
		UpdateHandler: dispatcher,
	})

	c := &client{
		inner:      inner,
		dispatcher: dispatcher,
		logger:     f.logger.With("session", sessionName),
		hashes:     make(map[int64]peerHash),
	}
	c.registerUpdateHandlers()
	return c, nil
}

type peerHash struct {
	kind telegram.EntityKind
	hash int64
}

type client struct {
	inner      *tgclient.Client
	dispatcher tg.UpdateDispatcher
	logger     *slog.Logger

	runCancel context.CancelFunc
	runDone   chan struct{}

	mu       sync.Mutex
	hashes   map[int64]peerHash
	handlers []func(msg telegram.RawMessage)
}

// Connect starts the client's run loop and blocks until the connection
// is established.
func (c *client) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan struct{})
	errCh := make(chan error, 1)

	go func() {
		defer close(done)
		err := c.inner.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	select {
	case <-ready:
		c.runCancel = cancel
		c.runDone = done
		return nil
	case err := <-errCh:
		cancel()
		return fmt.Errorf("run client: %w", err)
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

func (c *client) Disconnect(ctx context.Context) error {
	if c.runCancel == nil {
		return nil
	}
	c.runCancel()
	select {
	case <-c.runDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *client) IsAuthenticated(ctx context.Context) (bool, error) {
	status, err := c.inner.Auth().Status(ctx)
	if err != nil {
		return false, fmt.Errorf("auth status: %w", err)
	}
	return status.Authorized, nil
}

func (c *client) Authenticate(ctx context.Context, phone string, password telegram.PasswordFunc, code telegram.CodeFunc) error {
	flow := auth.NewFlow(userAuth{phone: phone, password: password, code: code}, auth.SendCodeOptions{})
	if err := flow.Run(ctx, c.inner.Auth()); err != nil {
		return fmt.Errorf("auth flow: %w", err)
	}
	return nil
}

// userAuth implements auth.UserAuthenticator over the injected secret
// callbacks. Sign-up is never performed with scraper accounts.
type userAuth struct {
	phone    string
	password telegram.PasswordFunc
	code     telegram.CodeFunc
}

func (a userAuth) Phone(_ context.Context) (string, error) { return a.phone, nil }

func (a userAuth) Password(ctx context.Context) (string, error) { return a.password(ctx) }

func (a userAuth) Code(ctx context.Context, _ *tg.AuthSentCode) (string, error) {
	return a.code(ctx)
}

func (a userAuth) AcceptTermsOfService(_ context.Context, _ tg.HelpTermsOfService) error {
	return nil
}

func (a userAuth) SignUp(_ context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errors.New("sign up not supported")
}

// Entity resolves a numeric id from the access-hash cache or a username
// through the directory. Unknown identifiers come back as ErrNotFound.
func (c *client) Entity(ctx context.Context, identifier string) (*telegram.Entity, error) {
	if id, err := strconv.ParseInt(identifier, 10, 64); err == nil {
		return c.entityByID(ctx, id)
	}
	return c.entityByUsername(ctx, identifier)
}

func (c *client) entityByID(ctx context.Context, id int64) (*telegram.Entity, error) {
	c.mu.Lock()
	ph, ok := c.hashes[id]
	c.mu.Unlock()
	if !ok {
		return nil, telegram.ErrNotFound
	}

	switch ph.kind {
	case telegram.KindUser:
		users, err := c.inner.API().UsersGetUsers(ctx, []tg.InputUserClass{
			&tg.InputUser{UserID: id, AccessHash: ph.hash},
		})
		if err != nil {
			return nil, wrapErr(err)
		}
		for _, u := range users {
			if user, ok := u.(*tg.User); ok && user.ID == id {
				return c.fromUser(user), nil
			}
		}
		return nil, telegram.ErrNotFound
	case telegram.KindChannel:
		chats, err := c.inner.API().ChannelsGetChannels(ctx, []tg.InputChannelClass{
			&tg.InputChannel{ChannelID: id, AccessHash: ph.hash},
		})
		if err != nil {
			return nil, wrapErr(err)
		}
		for _, ch := range chats.GetChats() {
			if channel, ok := ch.(*tg.Channel); ok && channel.ID == id {
				return c.fromChannel(channel), nil
			}
		}
		return nil, telegram.ErrNotFound
	default:
		return nil, telegram.ErrNotFound
	}
}

func (c *client) entityByUsername(ctx context.Context, username string) (*telegram.Entity, error) {
	resolved, err := c.inner.API().ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
		Username: username,
	})
	if err != nil {
		if tgerr.Is(err, "USERNAME_NOT_OCCUPIED", "USERNAME_INVALID") {
			return nil, telegram.ErrNotFound
		}
		return nil, wrapErr(err)
	}
	c.remember(resolved.Users, resolved.Chats)

	for _, u := range resolved.Users {
		if user, ok := u.(*tg.User); ok {
			return c.fromUser(user), nil
		}
	}
	for _, ch := range resolved.Chats {
		if channel, ok := ch.(*tg.Channel); ok {
			return c.fromChannel(channel), nil
		}
	}
	return nil, telegram.ErrNotFound
}

func (c *client) JoinChannel(ctx context.Context, username string) error {
	ent, err := c.entityByUsername(ctx, username)
	if err != nil {
		return err
	}
	if ent.Kind != telegram.KindChannel {
		return fmt.Errorf("join %s: not a channel", username)
	}
	c.mu.Lock()
	ph := c.hashes[ent.ID]
	c.mu.Unlock()

	_, err = c.inner.API().ChannelsJoinChannel(ctx, &tg.InputChannel{
		ChannelID:  ent.ID,
		AccessHash: ph.hash,
	})
	if err != nil {
		return wrapErr(err)
	}
	return nil
}

const historyPageSize = 100

func (c *client) History(ctx context.Context, chatID int64, opts telegram.HistoryOptions) (telegram.HistoryIter, error) {
	c.mu.Lock()
	ph, ok := c.hashes[chatID]
	c.mu.Unlock()
	if !ok || ph.kind != telegram.KindChannel {
		return nil, telegram.ErrNotFound
	}
	return &historyIter{
		client: c,
		peer:   &tg.InputPeerChannel{ChannelID: chatID, AccessHash: ph.hash},
		chatID: chatID,
		since:  opts.Since,
		delay:  opts.PerPageDelay,
	}, nil
}

// historyIter pages newest-first until it crosses the since boundary,
// then yields the buffered window oldest-first.
type historyIter struct {
	client *client
	peer   tg.InputPeerClass
	chatID int64
	since  time.Time
	delay  time.Duration

	loaded   bool
	buffered []telegram.RawMessage
	pos      int
}

func (it *historyIter) Next(ctx context.Context) (telegram.RawMessage, bool, error) {
	if !it.loaded {
		if err := it.load(ctx); err != nil {
			return telegram.RawMessage{}, false, err
		}
		it.loaded = true
	}
	if it.pos >= len(it.buffered) {
		return telegram.RawMessage{}, false, nil
	}
	msg := it.buffered[it.pos]
	it.pos++
	return msg, true, nil
}

func (it *historyIter) load(ctx context.Context) error {
	offsetID := 0
	for {
		raw, err := it.client.inner.API().MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     it.peer,
			OffsetID: offsetID,
			Limit:    historyPageSize,
		})
		if err != nil {
			return wrapErr(err)
		}

		messages, users, chats := splitHistory(raw)
		it.client.remember(users, chats)
		if len(messages) == 0 {
			break
		}

		crossed := false
		for _, m := range messages {
			msg, ok := m.(*tg.Message)
			if !ok {
				continue
			}
			date := time.Unix(int64(msg.Date), 0)
			if date.Before(it.since) {
				crossed = true
				break
			}
			it.buffered = append(it.buffered, it.client.rawMessage(msg, true))
			offsetID = msg.ID
		}
		if crossed || len(messages) < historyPageSize {
			break
		}
		if it.delay > 0 {
			timer := time.NewTimer(it.delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	// Pages arrive newest-first; consumers want chronological order.
	for i, j := 0, len(it.buffered)-1; i < j; i, j = i+1, j-1 {
		it.buffered[i], it.buffered[j] = it.buffered[j], it.buffered[i]
	}
	return nil
}

func splitHistory(raw tg.MessagesMessagesClass) ([]tg.MessageClass, []tg.UserClass, []tg.ChatClass) {
	switch v := raw.(type) {
	case *tg.MessagesMessages:
		return v.Messages, v.Users, v.Chats
	case *tg.MessagesMessagesSlice:
		return v.Messages, v.Users, v.Chats
	case *tg.MessagesChannelMessages:
		return v.Messages, v.Users, v.Chats
	default:
		return nil, nil, nil
	}
}

func (c *client) OnNewMessage(handler func(msg telegram.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

func (c *client) registerUpdateHandlers() {
	c.dispatcher.OnNewChannelMessage(func(_ context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		c.rememberEntities(e)
		if msg, ok := u.Message.(*tg.Message); ok {
			c.dispatch(c.rawMessage(msg, true))
		}
		return nil
	})
	c.dispatcher.OnNewMessage(func(_ context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		c.rememberEntities(e)
		if msg, ok := u.Message.(*tg.Message); ok {
			c.dispatch(c.rawMessage(msg, false))
		}
		return nil
	})
}

func (c *client) dispatch(msg telegram.RawMessage) {
	c.mu.Lock()
	handlers := make([]func(telegram.RawMessage), len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
}

func (c *client) rawMessage(msg *tg.Message, channel bool) telegram.RawMessage {
	raw := telegram.RawMessage{
		ID:      int64(msg.ID),
		Text:    msg.Message,
		Date:    time.Unix(int64(msg.Date), 0),
		Channel: channel,
	}
	switch peer := msg.PeerID.(type) {
	case *tg.PeerChannel:
		raw.ChatID = peer.ChannelID
	case *tg.PeerChat:
		raw.ChatID = peer.ChatID
	case *tg.PeerUser:
		raw.ChatID = peer.UserID
		raw.Private = true
		raw.Channel = false
	}
	if from, ok := msg.FromID.(*tg.PeerUser); ok {
		raw.SenderID = from.UserID
	}
	return raw
}

func (c *client) fromUser(u *tg.User) *telegram.Entity {
	c.mu.Lock()
	c.hashes[u.ID] = peerHash{kind: telegram.KindUser, hash: u.AccessHash}
	c.mu.Unlock()

	ent := &telegram.Entity{
		ID:        u.ID,
		Kind:      telegram.KindUser,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Phone:     u.Phone,
		Premium:   u.Premium,
	}
	if photo, ok := u.Photo.(*tg.UserProfilePhoto); ok {
		ent.PhotoID = photo.PhotoID
	}
	return ent
}

func (c *client) fromChannel(ch *tg.Channel) *telegram.Entity {
	c.mu.Lock()
	c.hashes[ch.ID] = peerHash{kind: telegram.KindChannel, hash: ch.AccessHash}
	c.mu.Unlock()

	return &telegram.Entity{
		ID:       ch.ID,
		Kind:     telegram.KindChannel,
		Username: ch.Username,
	}
}

func (c *client) remember(users []tg.UserClass, chats []tg.ChatClass) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range users {
		if user, ok := u.(*tg.User); ok {
			c.hashes[user.ID] = peerHash{kind: telegram.KindUser, hash: user.AccessHash}
		}
	}
	for _, ch := range chats {
		if channel, ok := ch.(*tg.Channel); ok {
			c.hashes[channel.ID] = peerHash{kind: telegram.KindChannel, hash: channel.AccessHash}
		}
	}
}

func (c *client) rememberEntities(e tg.Entities) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, user := range e.Users {
		c.hashes[id] = peerHash{kind: telegram.KindUser, hash: user.AccessHash}
	}
	for id, channel := range e.Channels {
		c.hashes[id] = peerHash{kind: telegram.KindChannel, hash: channel.AccessHash}
	}
}

// wrapErr maps platform rate-limit errors onto the boundary error type.
func wrapErr(err error) error {
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return &telegram.FloodWaitError{RetryAfter: wait}
	}
	if tgerr.Is(err, "CHANNEL_PRIVATE", "PEER_ID_INVALID") {
		return telegram.ErrNotFound
	}
	return err
}

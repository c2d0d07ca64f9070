package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/gotd/td/tg"

	"github.com/caamer20/Telegram-Drive/internal/backend"
)

const dialogBatch = 100

func userPeer(u *tg.User) backend.Peer {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return backend.Peer{
		Kind:       backend.PeerUser,
		ID:         u.ID,
		AccessHash: u.AccessHash,
		Title:      name,
		Self:       u.Self,
	}
}

func inputPeer(p backend.Peer) tg.InputPeerClass {
	switch {
	case p.Self:
		return &tg.InputPeerSelf{}
	case p.Kind == backend.PeerUser:
		return &tg.InputPeerUser{UserID: p.ID, AccessHash: p.AccessHash}
	case p.Kind == backend.PeerChat:
		return &tg.InputPeerChat{ChatID: p.ID}
	case p.Kind == backend.PeerChannel:
		return &tg.InputPeerChannel{ChannelID: p.ID, AccessHash: p.AccessHash}
	}
	return &tg.InputPeerEmpty{}
}

func inputChannel(p backend.Peer) (*tg.InputChannel, error) {
	if p.Kind != backend.PeerChannel {
		return nil, fmt.Errorf("peer %d is a %s, not a channel", p.ID, p.Kind)
	}
	return &tg.InputChannel{ChannelID: p.ID, AccessHash: p.AccessHash}, nil
}

// entities indexes the users and chats that accompany a list response.
type entities struct {
	users    map[int64]*tg.User
	chats    map[int64]*tg.Chat
	channels map[int64]*tg.Channel
}

func index(chats []tg.ChatClass, users []tg.UserClass) entities {
	e := entities{
		users:    make(map[int64]*tg.User, len(users)),
		chats:    make(map[int64]*tg.Chat),
		channels: make(map[int64]*tg.Channel),
	}
	for _, u := range users {
		if u, ok := u.(*tg.User); ok {
			e.users[u.ID] = u
		}
	}
	for _, c := range chats {
		switch c := c.(type) {
		case *tg.Chat:
			e.chats[c.ID] = c
		case *tg.Channel:
			e.channels[c.ID] = c
		}
	}
	return e
}

func (e entities) peer(p tg.PeerClass) (backend.Peer, bool) {
	switch p := p.(type) {
	case *tg.PeerUser:
		if u, ok := e.users[p.UserID]; ok {
			return userPeer(u), true
		}
	case *tg.PeerChat:
		if c, ok := e.chats[p.ChatID]; ok {
			return backend.Peer{Kind: backend.PeerChat, ID: c.ID, Title: c.Title}, true
		}
	case *tg.PeerChannel:
		if c, ok := e.channels[p.ChannelID]; ok {
			return backend.Peer{Kind: backend.PeerChannel, ID: c.ID, AccessHash: c.AccessHash, Title: c.Title}, true
		}
	}
	return backend.Peer{}, false
}

func samePeer(a, b tg.PeerClass) bool {
	switch a := a.(type) {
	case *tg.PeerUser:
		b, ok := b.(*tg.PeerUser)
		return ok && a.UserID == b.UserID
	case *tg.PeerChat:
		b, ok := b.(*tg.PeerChat)
		return ok && a.ChatID == b.ChatID
	case *tg.PeerChannel:
		b, ok := b.(*tg.PeerChannel)
		return ok && a.ChannelID == b.ChannelID
	}
	return false
}

// topDate finds the date of a dialog's top message for the next page offset.
func topDate(msgs []tg.MessageClass, p tg.PeerClass, id int) int {
	for _, m := range msgs {
		switch m := m.(type) {
		case *tg.Message:
			if m.ID == id && samePeer(m.PeerID, p) {
				return m.Date
			}
		case *tg.MessageService:
			if m.ID == id && samePeer(m.PeerID, p) {
				return m.Date
			}
		}
	}
	return 0
}

// ForEachDialog pages through the dialog list. Dialogs whose entity is
// missing from the response are skipped.
func (c *conn) ForEachDialog(ctx context.Context, fn func(backend.Peer) bool) error {
	api, err := c.api(ctx)
	if err != nil {
		return err
	}

	req := &tg.MessagesGetDialogsRequest{OffsetPeer: &tg.InputPeerEmpty{}, Limit: dialogBatch}
	seen := make(map[backend.Peer]struct{})
	for {
		res, err := api.MessagesGetDialogs(ctx, req)
		if err != nil {
			return convert(err)
		}

		var (
			dialogs []tg.DialogClass
			msgs    []tg.MessageClass
			e       entities
			more    bool
		)
		switch d := res.(type) {
		case *tg.MessagesDialogs:
			dialogs, msgs, e = d.Dialogs, d.Messages, index(d.Chats, d.Users)
		case *tg.MessagesDialogsSlice:
			dialogs, msgs, e = d.Dialogs, d.Messages, index(d.Chats, d.Users)
			more = len(d.Dialogs) == dialogBatch
		default:
			return nil
		}

		var (
			last    *tg.Dialog
			lastIn  backend.Peer
			visited bool
		)
		for _, dc := range dialogs {
			d, ok := dc.(*tg.Dialog)
			if !ok {
				continue
			}
			p, ok := e.peer(d.Peer)
			if !ok {
				continue
			}
			last, lastIn, visited = d, p, true
			key := backend.Peer{Kind: p.Kind, ID: p.ID}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			if !fn(p) {
				return nil
			}
		}
		if !more || !visited {
			return nil
		}

		req = &tg.MessagesGetDialogsRequest{
			OffsetDate: topDate(msgs, last.Peer, last.TopMessage),
			OffsetID:   last.TopMessage,
			OffsetPeer: inputPeer(lastIn),
			Limit:      dialogBatch,
		}
	}
}

func (c *conn) ChannelAbout(ctx context.Context, channel backend.Peer) (string, error) {
	api, err := c.api(ctx)
	if err != nil {
		return "", err
	}
	in, err := inputChannel(channel)
	if err != nil {
		return "", err
	}
	full, err := api.ChannelsGetFullChannel(ctx, in)
	if err != nil {
		return "", convert(err)
	}
	if cf, ok := full.FullChat.(*tg.ChannelFull); ok {
		return cf.About, nil
	}
	return "", nil
}

func (c *conn) CreateChannel(ctx context.Context, title, about string) (backend.Peer, error) {
	api, err := c.api(ctx)
	if err != nil {
		return backend.Peer{}, err
	}
	upd, err := api.ChannelsCreateChannel(ctx, &tg.ChannelsCreateChannelRequest{
		Broadcast: true,
		Title:     title,
		About:     about,
	})
	if err != nil {
		return backend.Peer{}, convert(err)
	}

	var chats []tg.ChatClass
	switch u := upd.(type) {
	case *tg.Updates:
		chats = u.Chats
	case *tg.UpdatesCombined:
		chats = u.Chats
	}
	for _, ch := range chats {
		if ch, ok := ch.(*tg.Channel); ok {
			return backend.Peer{Kind: backend.PeerChannel, ID: ch.ID, AccessHash: ch.AccessHash, Title: ch.Title}, nil
		}
	}
	return backend.Peer{}, fmt.Errorf("create channel: no channel in response")
}

func (c *conn) DisableAutoDelete(ctx context.Context, p backend.Peer) error {
	api, err := c.api(ctx)
	if err != nil {
		return err
	}
	_, err = api.MessagesSetHistoryTTL(ctx, &tg.MessagesSetHistoryTTLRequest{
		Peer:   inputPeer(p),
		Period: 0,
	})
	return convert(err)
}

func (c *conn) DeleteChannel(ctx context.Context, channel backend.Peer) error {
	api, err := c.api(ctx)
	if err != nil {
		return err
	}
	in, err := inputChannel(channel)
	if err != nil {
		return err
	}
	_, err = api.ChannelsDeleteChannel(ctx, in)
	return convert(err)
}

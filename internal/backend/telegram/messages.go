package telegram

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/gotd/td/crypto"
	"github.com/gotd/td/tg"

	"github.com/caamer20/Telegram-Drive/internal/backend"
)

const historyBatch = 100

func messagesOf(res tg.MessagesMessagesClass) []tg.MessageClass {
	switch m := res.(type) {
	case *tg.MessagesMessages:
		return m.Messages
	case *tg.MessagesMessagesSlice:
		return m.Messages
	case *tg.MessagesChannelMessages:
		return m.Messages
	}
	return nil
}

func convertMessage(m *tg.Message) backend.Message {
	msg := backend.Message{ID: m.ID, Date: time.Unix(int64(m.Date), 0).UTC()}
	if mm, ok := m.GetMedia(); ok {
		msg.Media = convertMedia(mm)
	}
	return msg
}

func convertMedia(mm tg.MessageMediaClass) *backend.Media {
	switch mm := mm.(type) {
	case *tg.MessageMediaEmpty:
		return nil
	case *tg.MessageMediaDocument:
		dc, ok := mm.GetDocument()
		if !ok {
			return &backend.Media{Kind: backend.MediaOther}
		}
		doc, ok := dc.(*tg.Document)
		if !ok {
			return &backend.Media{Kind: backend.MediaOther}
		}
		return documentMedia(doc)
	case *tg.MessageMediaPhoto:
		pc, ok := mm.GetPhoto()
		if !ok {
			return &backend.Media{Kind: backend.MediaOther}
		}
		photo, ok := pc.(*tg.Photo)
		if !ok {
			return &backend.Media{Kind: backend.MediaOther}
		}
		return photoMedia(photo)
	}
	return &backend.Media{Kind: backend.MediaOther}
}

func documentMedia(doc *tg.Document) *backend.Media {
	m := &backend.Media{
		Kind:     backend.MediaDocument,
		Size:     doc.Size,
		MimeType: doc.MimeType,
		Location: &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		},
	}
	for _, attr := range doc.Attributes {
		if fn, ok := attr.(*tg.DocumentAttributeFilename); ok {
			m.Name = fn.FileName
		}
	}
	if thumbs, ok := doc.GetThumbs(); ok {
		if typ, size := largestSize(thumbs); typ != "" {
			m.Thumb = &backend.Thumb{
				Size: int64(size),
				Location: &tg.InputDocumentFileLocation{
					ID:            doc.ID,
					AccessHash:    doc.AccessHash,
					FileReference: doc.FileReference,
					ThumbSize:     typ,
				},
			}
		}
	}
	return m
}

func photoMedia(photo *tg.Photo) *backend.Media {
	typ, size := largestSize(photo.Sizes)
	return &backend.Media{
		Kind:     backend.MediaPhoto,
		Size:     int64(size),
		MimeType: "image/jpeg",
		Location: &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     typ,
		},
	}
}

// largestSize picks the biggest downloadable rendition. Inline stripped and
// cached sizes carry their bytes in the message and are skipped.
func largestSize(sizes []tg.PhotoSizeClass) (string, int) {
	var (
		typ  string
		best int
	)
	for _, s := range sizes {
		switch s := s.(type) {
		case *tg.PhotoSize:
			if s.Size > best {
				typ, best = s.Type, s.Size
			}
		case *tg.PhotoSizeProgressive:
			if n := len(s.Sizes); n > 0 && s.Sizes[n-1] > best {
				typ, best = s.Type, s.Sizes[n-1]
			}
		}
	}
	return typ, best
}

func location(media *backend.Media) (tg.InputFileLocationClass, error) {
	if media == nil {
		return nil, fmt.Errorf("message has no media")
	}
	loc, ok := media.Location.(tg.InputFileLocationClass)
	if !ok {
		return nil, fmt.Errorf("media is not downloadable")
	}
	return loc, nil
}

// ForEachMessage walks the history newest first, a page at a time.
func (c *conn) ForEachMessage(ctx context.Context, p backend.Peer, fn func(backend.Message) bool) error {
	api, err := c.api(ctx)
	if err != nil {
		return err
	}

	offset := 0
	for {
		res, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     inputPeer(p),
			OffsetID: offset,
			Limit:    historyBatch,
		})
		if err != nil {
			return convert(err)
		}
		msgs := messagesOf(res)
		for _, mc := range msgs {
			if mc.GetID() > 0 {
				offset = mc.GetID()
			}
			m, ok := mc.(*tg.Message)
			if !ok {
				continue
			}
			if !fn(convertMessage(m)) {
				return nil
			}
		}
		if len(msgs) < historyBatch {
			return nil
		}
	}
}

func (c *conn) Messages(ctx context.Context, p backend.Peer, ids []int) ([]backend.Message, error) {
	api, err := c.api(ctx)
	if err != nil {
		return nil, err
	}
	in := make([]tg.InputMessageClass, len(ids))
	for i, id := range ids {
		in[i] = &tg.InputMessageID{ID: id}
	}

	var res tg.MessagesMessagesClass
	if p.Kind == backend.PeerChannel {
		ch, _ := inputChannel(p)
		res, err = api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{Channel: ch, ID: in})
	} else {
		res, err = api.MessagesGetMessages(ctx, in)
	}
	if err != nil {
		return nil, convert(err)
	}

	var out []backend.Message
	for _, mc := range messagesOf(res) {
		if m, ok := mc.(*tg.Message); ok {
			out = append(out, convertMessage(m))
		}
	}
	return out, nil
}

func randomIDs(n int) ([]int64, error) {
	ids := make([]int64, n)
	for i := range ids {
		id, err := crypto.RandInt64(rand.Reader)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func (c *conn) Forward(ctx context.Context, from, to backend.Peer, ids []int) error {
	api, err := c.api(ctx)
	if err != nil {
		return err
	}
	rids, err := randomIDs(len(ids))
	if err != nil {
		return err
	}
	_, err = api.MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
		FromPeer: inputPeer(from),
		ToPeer:   inputPeer(to),
		ID:       ids,
		RandomID: rids,
	})
	return convert(err)
}

// DeleteMessages removes messages for everyone.
func (c *conn) DeleteMessages(ctx context.Context, p backend.Peer, ids []int) error {
	api, err := c.api(ctx)
	if err != nil {
		return err
	}
	if p.Kind == backend.PeerChannel {
		ch, _ := inputChannel(p)
		_, err = api.ChannelsDeleteMessages(ctx, &tg.ChannelsDeleteMessagesRequest{Channel: ch, ID: ids})
		return convert(err)
	}
	_, err = api.MessagesDeleteMessages(ctx, &tg.MessagesDeleteMessagesRequest{Revoke: true, ID: ids})
	return convert(err)
}

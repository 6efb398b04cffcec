package telegramapi

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/html"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"

	"github.com/watchtower-cti/watchtower/internal/pkg/logs"
	"github.com/watchtower-cti/watchtower/internal/pkg/utils"
)

// Client is the gotd-backed implementation of API. It maintains a peer cache
// so configured ids resolve to access-hashed input peers exactly once.
type Client struct {
	client     *telegram.Client
	dispatcher tg.UpdateDispatcher

	raw    *tg.Client
	sender *message.Sender
	dl     *downloader.Downloader
	up     *uploader.Uploader

	mu      sync.Mutex
	peers   map[int64]*tg.InputPeerChannel // channel id -> access-hashed peer
	chats   map[int64]*Chat
	handler func(ctx context.Context, msg *Message)
	loaded  bool // dialogs scanned at least once
}

var _ API = (*Client)(nil)

// NewClient builds an unauthenticated client around an on-disk session file.
// The session must already be authorized (interactive login is out of scope
// for the daemon; any MTProto-capable tool can seed the file).
func NewClient(apiID int, apiHash, sessionPath string) *Client {
	dispatcher := tg.NewUpdateDispatcher()
	c := &Client{
		dispatcher: dispatcher,
		peers:      make(map[int64]*tg.InputPeerChannel),
		chats:      make(map[int64]*Chat),
	}
	c.client = telegram.NewClient(apiID, apiHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: sessionPath},
		UpdateHandler:  dispatcher,
	})

	dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		msg, ok := u.Message.(*tg.Message)
		if !ok || msg.Out {
			return nil
		}
		c.rememberEntities(e)

		c.mu.Lock()
		handler := c.handler
		c.mu.Unlock()
		if handler == nil {
			return nil
		}
		handler(ctx, c.convert(ctx, msg, true))
		return nil
	})
	return c
}

func (c *Client) OnNewMessage(handler func(ctx context.Context, msg *Message)) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

func (c *Client) Run(ctx context.Context, ready func(ctx context.Context) error) error {
	return c.client.Run(ctx, func(ctx context.Context) error {
		status, err := c.client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("auth status: %w", err)
		}
		if !status.Authorized {
			return errors.New("session is not authorized; seed the session file with an interactive login")
		}

		c.raw = c.client.API()
		c.sender = message.NewSender(c.raw)
		c.dl = downloader.NewDownloader()
		c.up = uploader.NewUploader(c.raw)

		if err := ready(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return ctx.Err()
	})
}

// rememberEntities caches chat titles and access hashes seen in updates and
// history responses.
func (c *Client) rememberEntities(e tg.Entities) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range e.Channels {
		c.peers[id] = &tg.InputPeerChannel{ChannelID: id, AccessHash: ch.AccessHash}
		c.chats[id] = &Chat{ID: id, Title: ch.Title, Username: ch.Username}
	}
}

func (c *Client) rememberChats(chats []tg.ChatClass) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, one := range chats {
		ch, ok := one.(*tg.Channel)
		if !ok {
			continue
		}
		c.peers[ch.ID] = &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
		c.chats[ch.ID] = &Chat{ID: ch.ID, Title: ch.Title, Username: ch.Username}
	}
}

// ensureDialogs scans the session's dialog list once to populate the peer
// cache; numeric channel ids are only resolvable through it.
func (c *Client) ensureDialogs(ctx context.Context) error {
	c.mu.Lock()
	loaded := c.loaded
	c.mu.Unlock()
	if loaded {
		return nil
	}

	res, err := c.raw.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		Limit:      500,
		OffsetPeer: &tg.InputPeerEmpty{},
	})
	if err != nil {
		return fmt.Errorf("get dialogs: %w", err)
	}

	switch d := res.(type) {
	case *tg.MessagesDialogs:
		c.rememberChats(d.Chats)
	case *tg.MessagesDialogsSlice:
		c.rememberChats(d.Chats)
	}

	c.mu.Lock()
	c.loaded = true
	c.mu.Unlock()
	return nil
}

// Resolve maps @handle or signed-numeric configured ids to a chat.
func (c *Client) Resolve(ctx context.Context, channelID string) (*Chat, error) {
	_, chat, err := c.resolvePeer(ctx, channelID)
	return chat, err
}

func (c *Client) resolvePeer(ctx context.Context, channelID string) (*tg.InputPeerChannel, *Chat, error) {
	if strings.HasPrefix(channelID, "@") {
		return c.resolveUsername(ctx, strings.TrimPrefix(channelID, "@"))
	}

	id, err := parseChannelID(channelID)
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	peer, pok := c.peers[id]
	chat, cok := c.chats[id]
	c.mu.Unlock()
	if pok && cok {
		return peer, chat, nil
	}

	if err := c.ensureDialogs(ctx); err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	peer, pok = c.peers[id]
	chat, cok = c.chats[id]
	c.mu.Unlock()
	if !pok || !cok {
		return nil, nil, fmt.Errorf("channel %s is not accessible from this session", channelID)
	}
	return peer, chat, nil
}

func (c *Client) resolveUsername(ctx context.Context, username string) (*tg.InputPeerChannel, *Chat, error) {
	c.mu.Lock()
	for id, chat := range c.chats {
		if strings.EqualFold(chat.Username, username) {
			peer := c.peers[id]
			c.mu.Unlock()
			return peer, chat, nil
		}
	}
	c.mu.Unlock()

	res, err := c.raw.ContactsResolveUsername(ctx, username)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve @%s: %w", username, err)
	}
	c.rememberChats(res.Chats)

	for _, one := range res.Chats {
		ch, ok := one.(*tg.Channel)
		if !ok {
			continue
		}
		if strings.EqualFold(ch.Username, username) {
			return &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash},
				&Chat{ID: ch.ID, Title: ch.Title, Username: ch.Username}, nil
		}
	}
	return nil, nil, fmt.Errorf("@%s did not resolve to a channel", username)
}

// parseChannelID accepts "-100<id>", "-<id>" and bare "<id>" forms.
func parseChannelID(s string) (int64, error) {
	trimmed := strings.TrimPrefix(s, "-100")
	trimmed = strings.TrimPrefix(trimmed, "-")
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse channel id %q: %w", s, err)
	}
	return id, nil
}

func (c *Client) Latest(ctx context.Context, channelID string) (*Message, error) {
	msgs, err := c.history(ctx, channelID, &tg.MessagesGetHistoryRequest{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return msgs[len(msgs)-1], nil
}

func (c *Client) After(ctx context.Context, channelID string, minID, limit int) ([]*Message, error) {
	msgs, err := c.history(ctx, channelID, &tg.MessagesGetHistoryRequest{
		MinID: minID,
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}

	// History responses are newest-first; the pipeline wants ascending ids.
	filtered := msgs[:0]
	for _, m := range msgs {
		if m.ID > minID {
			filtered = append(filtered, m)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].ID < filtered[j].ID })
	return filtered, nil
}

func (c *Client) history(ctx context.Context, channelID string, req *tg.MessagesGetHistoryRequest) ([]*Message, error) {
	peer, _, err := c.resolvePeer(ctx, channelID)
	if err != nil {
		return nil, err
	}
	req.Peer = peer

	res, err := c.raw.MessagesGetHistory(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("get history for %s: %w", channelID, err)
	}

	var raw []tg.MessageClass
	switch hist := res.(type) {
	case *tg.MessagesMessages:
		c.rememberChats(hist.Chats)
		raw = hist.Messages
	case *tg.MessagesMessagesSlice:
		c.rememberChats(hist.Chats)
		raw = hist.Messages
	case *tg.MessagesChannelMessages:
		c.rememberChats(hist.Chats)
		raw = hist.Messages
	default:
		return nil, fmt.Errorf("unexpected history response type: %T", res)
	}

	out := make([]*Message, 0, len(raw))
	for _, one := range raw {
		msg, ok := one.(*tg.Message)
		if !ok {
			continue
		}
		out = append(out, c.convert(ctx, msg, false))
	}
	return out, nil
}

// convert reduces a wire message to the pipeline's Message. resolveReply
// fetches the replied-to message best-effort (event path only; history
// conversions skip it to avoid request storms).
func (c *Client) convert(ctx context.Context, msg *tg.Message, resolveReply bool) *Message {
	out := &Message{
		ID:        msg.ID,
		Timestamp: time.Unix(int64(msg.Date), 0).UTC(),
		Text:      msg.Message,
		ref:       msg,
	}

	if peer, ok := msg.PeerID.(*tg.PeerChannel); ok {
		out.ChannelID = peer.ChannelID
	}

	out.Author = c.authorOf(msg)
	out.Media = classifyMedia(msg.Media)

	if resolveReply && msg.ReplyTo != nil {
		if hdr, ok := msg.ReplyTo.(*tg.MessageReplyHeader); ok && hdr.ReplyToMsgID != 0 {
			if reply := c.fetchReply(ctx, out.ChannelID, hdr.ReplyToMsgID); reply != nil {
				out.Reply = reply
			}
		}
	}
	return out
}

func (c *Client) authorOf(msg *tg.Message) string {
	if msg.PostAuthor != "" {
		return msg.PostAuthor
	}
	if peer, ok := msg.PeerID.(*tg.PeerChannel); ok {
		c.mu.Lock()
		chat, ok := c.chats[peer.ChannelID]
		c.mu.Unlock()
		if ok {
			return chat.Title
		}
	}
	return "Unknown"
}

func (c *Client) fetchReply(ctx context.Context, channelID int64, msgID int) *Message {
	c.mu.Lock()
	peer, ok := c.peers[channelID]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	res, err := c.raw.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: &tg.InputChannel{ChannelID: peer.ChannelID, AccessHash: peer.AccessHash},
		ID:      []tg.InputMessageClass{&tg.InputMessageID{ID: msgID}},
	})
	if err != nil {
		logs.Debug("[telegramapi] fetch reply %d in %d: %v", msgID, channelID, err)
		return nil
	}

	msgs, ok := res.(*tg.MessagesChannelMessages)
	if !ok || len(msgs.Messages) == 0 {
		return nil
	}
	reply, ok := msgs.Messages[0].(*tg.Message)
	if !ok {
		return nil
	}
	return c.convert(ctx, reply, false)
}

func classifyMedia(media tg.MessageMediaClass) *Media {
	switch m := media.(type) {
	case nil:
		return nil
	case *tg.MessageMediaPhoto:
		return &Media{Type: MediaImage}
	case *tg.MessageMediaDocument:
		out := &Media{Type: MediaDocument}
		if doc, ok := m.GetDocument(); ok {
			if d, ok := doc.(*tg.Document); ok {
				out.MIME = d.MimeType
				for _, attr := range d.Attributes {
					if name, ok := attr.(*tg.DocumentAttributeFilename); ok {
						out.Filename = name.FileName
						break
					}
				}
				// Videos arrive as documents; treat them as generic media so
				// restricted-mode policy drops them.
				if strings.HasPrefix(d.MimeType, "video/") {
					out.Type = MediaOther
				}
			}
		}
		return out
	case *tg.MessageMediaWebPage:
		// Link previews carry no payload worth downloading.
		return nil
	default:
		return &Media{Type: MediaOther}
	}
}

// Download fetches the message's media into dir under an opaque name.
func (c *Client) Download(ctx context.Context, msg *Message, dir string) (string, error) {
	raw, ok := msg.ref.(*tg.Message)
	if !ok || raw.Media == nil {
		return "", errors.New("message has no downloadable media")
	}

	switch media := raw.Media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := media.GetPhoto()
		if !ok {
			return "", errors.New("photo media without photo")
		}
		p, ok := photo.(*tg.Photo)
		if !ok {
			return "", fmt.Errorf("unexpected photo type %T", photo)
		}
		loc := &tg.InputPhotoFileLocation{
			ID:            p.ID,
			AccessHash:    p.AccessHash,
			FileReference: p.FileReference,
			ThumbSize:     largestPhotoSize(p.Sizes),
		}
		path := filepath.Join(dir, utils.RandStr(12)+".jpg")
		if _, err := c.dl.Download(c.raw, loc).ToPath(ctx, path); err != nil {
			return "", fmt.Errorf("download photo: %w", err)
		}
		return path, nil

	case *tg.MessageMediaDocument:
		doc, ok := media.GetDocument()
		if !ok {
			return "", errors.New("document media without document")
		}
		d, ok := doc.(*tg.Document)
		if !ok {
			return "", fmt.Errorf("unexpected document type %T", doc)
		}
		loc := &tg.InputDocumentFileLocation{
			ID:            d.ID,
			AccessHash:    d.AccessHash,
			FileReference: d.FileReference,
		}
		ext := ".bin"
		if msg.Media != nil && msg.Media.Filename != "" {
			ext = filepath.Ext(msg.Media.Filename)
		}
		path := filepath.Join(dir, utils.RandStr(12)+ext)
		if _, err := c.dl.Download(c.raw, loc).ToPath(ctx, path); err != nil {
			return "", fmt.Errorf("download document: %w", err)
		}
		return path, nil

	default:
		return "", fmt.Errorf("unsupported media type %T", raw.Media)
	}
}

func largestPhotoSize(sizes []tg.PhotoSizeClass) string {
	best, bestArea := "", -1
	for _, size := range sizes {
		var t string
		var area int
		switch s := size.(type) {
		case *tg.PhotoSize:
			t, area = s.Type, s.W*s.H
		case *tg.PhotoSizeProgressive:
			t, area = s.Type, s.W*s.H
		case *tg.PhotoCachedSize:
			t, area = s.Type, s.W*s.H
		default:
			continue
		}
		if area > bestArea {
			best, bestArea = t, area
		}
	}
	return best
}

func (c *Client) SendMessage(ctx context.Context, chatID, text string) error {
	peer, _, err := c.resolvePeer(ctx, chatID)
	if err != nil {
		return err
	}
	if _, err := c.sender.To(peer).StyledText(ctx, html.String(nil, text)); err != nil {
		return fmt.Errorf("send message to %s: %w", chatID, err)
	}
	return nil
}

func (c *Client) SendFile(ctx context.Context, chatID, path, caption string) error {
	peer, _, err := c.resolvePeer(ctx, chatID)
	if err != nil {
		return err
	}

	upload, err := c.up.FromPath(ctx, path)
	if err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}

	doc := message.UploadedDocument(upload, html.String(nil, caption))
	doc.Filename(filepath.Base(path))
	if _, err := c.sender.To(peer).Media(ctx, doc); err != nil {
		return fmt.Errorf("send file to %s: %w", chatID, err)
	}
	return nil
}

func (c *Client) Dialogs(ctx context.Context) ([]*Chat, error) {
	if err := c.ensureDialogs(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Chat, 0, len(c.chats))
	for _, chat := range c.chats {
		out = append(out, chat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

package message

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/kajgg/kaj-server/internal/channel"
	"github.com/kajgg/kaj-server/internal/event"
	"github.com/kajgg/kaj-server/internal/file"
	"github.com/kajgg/kaj-server/internal/ident"
	"github.com/kajgg/kaj-server/internal/model"
	"github.com/kajgg/kaj-server/internal/user"
	"github.com/kajgg/kaj-server/internal/webhook"
)

// unfurlTimeout bounds the whole background unfurl of one message.
const unfurlTimeout = 30 * time.Second

// Publisher appends envelopes to the event stream.
type Publisher interface {
	Publish(ctx context.Context, env event.Envelope) error
}

// Presence answers whether a user has a live gateway connection.
type Presence interface {
	Online(ctx context.Context, userID string) (bool, error)
}

// Unfurler computes system embeds from message content.
type Unfurler interface {
	Unfurl(ctx context.Context, content string) []model.Embed
}

// Service is the message ingestion pipeline: authorise, validate, resolve
// mentions, bind files, persist, publish, and kick off unfurling.
type Service struct {
	repo     Repository
	channels channel.Repository
	users    user.Repository
	files    file.Repository
	bus      Publisher
	presence Presence
	unfurler Unfurler
	log      zerolog.Logger

	env       string
	publicURL string
	maxFiles  int
}

// NewService wires the ingestion pipeline. unfurler may be nil to disable
// link unfurling.
func NewService(
	repo Repository,
	channels channel.Repository,
	users user.Repository,
	files file.Repository,
	bus Publisher,
	presence Presence,
	unfurler Unfurler,
	logger zerolog.Logger,
	env, publicURL string,
	maxFiles int,
) *Service {
	return &Service{
		repo:     repo,
		channels: channels,
		users:    users,
		files:    files,
		bus:      bus,
		presence: presence,
		unfurler: unfurler,
		log:      logger.With().Str("component", "message").Logger(),

		env:       env,
		publicURL: publicURL,
		maxFiles:  maxFiles,
	}
}

// CreateInput is a user's request to post a message.
type CreateInput struct {
	Content string
	Nonce   *string
	Embeds  []model.Embed
	FileIDs []string
}

// Create ingests a user message and returns its projection.
func (s *Service) Create(ctx context.Context, author *user.User, channelID string, in CreateInput) (*model.Message, error) {
	ch, err := s.authorize(ctx, channelID, author.ID)
	if err != nil {
		return nil, err
	}

	allowEmpty := len(in.FileIDs) > 0 || len(in.Embeds) > 0
	content, err := ValidateContent(in.Content, allowEmpty)
	if err != nil {
		return nil, err
	}
	if err := ValidateNonce(in.Nonce); err != nil {
		return nil, err
	}
	if err := ValidateEmbeds(in.Embeds); err != nil {
		return nil, err
	}
	if len(in.FileIDs) > s.maxFiles {
		return nil, ErrTooManyFiles
	}

	boundFiles, totalBytes, err := s.bindFiles(ctx, author.ID, in.FileIDs)
	if err != nil {
		return nil, err
	}

	mentions, err := s.resolveMentions(ctx, ch, content)
	if err != nil {
		return nil, err
	}

	msg, err := s.repo.Create(ctx, CreateParams{
		ID:         ident.New(),
		ChannelID:  ch.ID,
		AuthorID:   author.ID,
		Type:       model.MessageDefault,
		Content:    content,
		Nonce:      in.Nonce,
		FileIDs:    in.FileIDs,
		UserEmbeds: in.Embeds,
		Mentions:   mentions,
	})
	if err != nil {
		return nil, err
	}

	if err := s.channels.SetLastMessageAt(ctx, ch.ID, msg.CreatedAt); err != nil {
		s.log.Warn().Err(err).Str("channel_id", ch.ID).Msg("Failed to bump channel activity")
	}
	// Cost of a message is its content length plus the attached file sizes.
	if cost := int64(len(content)) + totalBytes; cost > 0 {
		if err := s.users.AddBytes(ctx, author.ID, cost); err != nil {
			s.log.Warn().Err(err).Str("user_id", author.ID).Msg("Failed to charge storage bytes")
		}
	}

	projection := s.project(msg, boundFiles)
	authorModel := s.authorProjection(ctx, author)
	channelModel := ch.ToModel()
	s.publish(ctx, event.MessageCreated{
		Message: projection,
		Author:  &authorModel,
		Channel: &channelModel,
	})

	if len(in.Embeds) == 0 {
		s.scheduleUnfurl(msg.ChannelID, msg.ID, msg.Content)
	}
	return &projection, nil
}

// CreateSystem posts a join or leave notice authored by the affected user.
func (s *Service) CreateSystem(ctx context.Context, author *user.User, channelID string, typ model.MessageType) (*model.Message, error) {
	msg, err := s.repo.Create(ctx, CreateParams{
		ID:        ident.New(),
		ChannelID: channelID,
		AuthorID:  author.ID,
		Type:      typ,
	})
	if err != nil {
		return nil, err
	}

	if err := s.channels.SetLastMessageAt(ctx, channelID, msg.CreatedAt); err != nil {
		s.log.Warn().Err(err).Str("channel_id", channelID).Msg("Failed to bump channel activity")
	}

	projection := s.project(msg, nil)
	authorModel := s.authorProjection(ctx, author)
	s.publish(ctx, event.MessageCreated{Message: projection, Author: &authorModel})
	return &projection, nil
}

// CreateFromWebhook ingests a translated webhook delivery. The message is
// authored by the webhook itself.
func (s *Service) CreateFromWebhook(ctx context.Context, wh *webhook.Webhook, in webhook.Incoming) (*model.Message, error) {
	allowEmpty := len(in.Embeds) > 0
	content, err := ValidateContent(in.Content, allowEmpty)
	if err != nil {
		return nil, err
	}
	if err := ValidateEmbeds(in.Embeds); err != nil {
		return nil, err
	}

	msg, err := s.repo.Create(ctx, CreateParams{
		ID:         ident.New(),
		ChannelID:  wh.ChannelID,
		AuthorID:   wh.ID,
		Type:       model.MessageDefault,
		Content:    content,
		UserEmbeds: in.Embeds,
	})
	if err != nil {
		return nil, err
	}

	if err := s.channels.SetLastMessageAt(ctx, wh.ChannelID, msg.CreatedAt); err != nil {
		s.log.Warn().Err(err).Str("channel_id", wh.ChannelID).Msg("Failed to bump channel activity")
	}

	projection := s.project(msg, nil)
	author := wh.SyntheticAuthor()
	s.publish(ctx, event.MessageCreated{Message: projection, Author: &author})

	if len(in.Embeds) == 0 {
		s.scheduleUnfurl(msg.ChannelID, msg.ID, msg.Content)
	}
	return &projection, nil
}

// Update edits a message's content. Only the author, or an admin, may edit.
func (s *Service) Update(ctx context.Context, actor *user.User, channelID, messageID, content string) (*model.Message, error) {
	msg, err := s.repo.GetByID(ctx, channelID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.AuthorID != actor.ID && !actor.Admin {
		return nil, ErrNotAuthor
	}

	allowEmpty := len(msg.FileIDs) > 0 || len(msg.UserEmbeds) > 0
	trimmed, err := ValidateContent(content, allowEmpty)
	if err != nil {
		return nil, err
	}

	ch, err := s.channels.GetByID(ctx, channelID)
	if err != nil {
		return nil, err
	}
	mentions, err := s.resolveMentions(ctx, ch, trimmed)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateContent(ctx, msg.ID, trimmed, mentions)
	if err != nil {
		return nil, err
	}

	if delta := int64(len(trimmed)) - int64(len(msg.Content)); delta != 0 {
		if err := s.users.AddBytes(ctx, msg.AuthorID, delta); err != nil {
			s.log.Warn().Err(err).Str("user_id", msg.AuthorID).Msg("Failed to adjust storage bytes")
		}
	}

	files, err := s.loadFiles(ctx, updated.FileIDs)
	if err != nil {
		return nil, err
	}
	projection := s.project(updated, files)
	s.publish(ctx, event.MessageUpdated{Message: projection})

	if len(updated.UserEmbeds) == 0 {
		s.scheduleUnfurl(updated.ChannelID, updated.ID, updated.Content)
	}
	return &projection, nil
}

// Delete soft-deletes a message. Only the author may delete; the message's
// full storage cost, content plus attached file sizes, is refunded.
func (s *Service) Delete(ctx context.Context, actor *user.User, channelID, messageID string) error {
	msg, err := s.repo.GetByID(ctx, channelID, messageID)
	if err != nil {
		return err
	}
	if msg.AuthorID != actor.ID {
		return ErrNotAuthor
	}

	if err := s.repo.SoftDelete(ctx, msg.ID, time.Now()); err != nil {
		return err
	}

	refund := int64(len(msg.Content))
	if len(msg.FileIDs) > 0 {
		files, err := s.files.GetByIDs(ctx, msg.FileIDs)
		if err != nil {
			s.log.Warn().Err(err).Str("message_id", msg.ID).Msg("Failed to load files for byte refund")
		} else {
			for _, f := range files {
				refund += f.Size
			}
		}
	}
	if refund > 0 {
		if err := s.users.AddBytes(ctx, msg.AuthorID, -refund); err != nil {
			s.log.Warn().Err(err).Str("user_id", msg.AuthorID).Msg("Failed to refund storage bytes")
		}
	}

	s.publish(ctx, event.MessageDeleted{MessageID: msg.ID, ChannelID: msg.ChannelID})
	return nil
}

// List returns a page of channel history for the given user.
func (s *Service) List(ctx context.Context, actor *user.User, channelID string, filter ListFilter) ([]model.Message, error) {
	if _, err := s.authorize(ctx, channelID, actor.ID); err != nil {
		return nil, err
	}

	msgs, err := s.repo.List(ctx, channelID, filter)
	if err != nil {
		return nil, err
	}

	var allFileIDs []string
	for _, m := range msgs {
		allFileIDs = append(allFileIDs, m.FileIDs...)
	}
	files, err := s.loadFiles(ctx, allFileIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.File, len(files))
	for _, f := range files {
		byID[f.ID] = f
	}

	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		var attached []model.File
		for _, id := range m.FileIDs {
			if f, ok := byID[id]; ok {
				attached = append(attached, f)
			}
		}
		out = append(out, m.ToModel(attached))
	}
	return out, nil
}

// Get returns one message with its files, for the given user.
func (s *Service) Get(ctx context.Context, actor *user.User, channelID, messageID string) (*model.Message, error) {
	if _, err := s.authorize(ctx, channelID, actor.ID); err != nil {
		return nil, err
	}
	msg, err := s.repo.GetByID(ctx, channelID, messageID)
	if err != nil {
		return nil, err
	}
	files, err := s.loadFiles(ctx, msg.FileIDs)
	if err != nil {
		return nil, err
	}
	projection := s.project(msg, files)
	return &projection, nil
}

// authorize loads the channel and checks visibility.
func (s *Service) authorize(ctx context.Context, channelID, userID string) (*channel.Channel, error) {
	ch, err := s.channels.GetByID(ctx, channelID)
	if err != nil {
		return nil, err
	}
	ok, err := s.channels.CanAccess(ctx, channelID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, channel.ErrNotMember
	}
	return ch, nil
}

// bindFiles verifies that every attached file exists, belongs to the author
// and finished uploading. Returns the projections and the byte total.
func (s *Service) bindFiles(ctx context.Context, authorID string, fileIDs []string) ([]model.File, int64, error) {
	if len(fileIDs) == 0 {
		return nil, 0, nil
	}

	records, err := s.files.GetByIDs(ctx, fileIDs)
	if err != nil {
		return nil, 0, err
	}
	byID := make(map[string]file.File, len(records))
	for _, f := range records {
		byID[f.ID] = f
	}

	var (
		out   []model.File
		total int64
	)
	for _, id := range fileIDs {
		f, ok := byID[id]
		if !ok {
			return nil, 0, file.ErrNotFound
		}
		if f.OwnerID != authorID {
			return nil, 0, file.ErrNotOwner
		}
		if !f.Uploaded {
			return nil, 0, file.ErrNotUploaded
		}
		out = append(out, f.ToModel(s.publicURL, s.env))
		total += f.Size
	}
	return out, total, nil
}

// resolveMentions maps @names in content to user ids. In private channels
// only the channel author and members can be mentioned.
func (s *Service) resolveMentions(ctx context.Context, ch *channel.Channel, content string) ([]string, error) {
	names := ExtractMentionUsernames(content)
	if len(names) == 0 {
		return nil, nil
	}

	users, err := s.users.GetByUsernames(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("resolve mentions: %w", err)
	}
	if len(users) == 0 {
		return nil, nil
	}

	if ch.Private {
		memberIDs, err := s.channels.MemberIDs(ctx, ch.ID)
		if err != nil {
			return nil, fmt.Errorf("scope mentions: %w", err)
		}
		allowed := make(map[string]struct{}, len(memberIDs)+1)
		allowed[ch.AuthorID] = struct{}{}
		for _, id := range memberIDs {
			allowed[id] = struct{}{}
		}
		filtered := users[:0]
		for _, u := range users {
			if _, ok := allowed[u.ID]; ok {
				filtered = append(filtered, u)
			}
		}
		users = filtered
	}

	byName := make(map[string]string, len(users))
	for _, u := range users {
		byName[u.Username] = u.ID
	}

	var (
		out  []string
		seen = make(map[string]struct{})
	)
	for _, name := range names {
		id, ok := byName[name]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// loadFiles fetches projections for the given file ids.
func (s *Service) loadFiles(ctx context.Context, fileIDs []string) ([]model.File, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}
	records, err := s.files.GetByIDs(ctx, fileIDs)
	if err != nil {
		return nil, err
	}
	out := make([]model.File, 0, len(records))
	for _, f := range records {
		out = append(out, f.ToModel(s.publicURL, s.env))
	}
	return out, nil
}

func (s *Service) project(m *Message, files []model.File) model.Message {
	return m.ToModel(files)
}

// authorProjection resolves the author's live status for event payloads.
func (s *Service) authorProjection(ctx context.Context, u *user.User) model.Author {
	online := false
	if s.presence != nil {
		var err error
		online, err = s.presence.Online(ctx, u.ID)
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", u.ID).Msg("Failed to resolve presence")
		}
	}
	return u.ToAuthor(u.EffectiveStatus(online))
}

func (s *Service) publish(ctx context.Context, ev event.Event) {
	env, err := event.Encode(ev)
	if err != nil {
		s.log.Error().Err(err).Str("type", string(ev.EventType())).Msg("Failed to encode event")
		return
	}
	if err := s.bus.Publish(ctx, env); err != nil {
		s.log.Error().Err(err).Str("type", string(ev.EventType())).Msg("Failed to publish event")
	}
}

// scheduleUnfurl runs the unfurler in the background and, when the computed
// embeds differ from what is stored, persists them and announces the edit.
func (s *Service) scheduleUnfurl(channelID, messageID, content string) {
	if s.unfurler == nil || content == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), unfurlTimeout)
		defer cancel()

		embeds := s.unfurler.Unfurl(ctx, content)

		current, err := s.repo.GetByID(ctx, channelID, messageID)
		if err != nil {
			// Deleted while unfurling; nothing to do.
			return
		}
		if len(embeds) == 0 && len(current.SystemEmbeds) == 0 {
			return
		}
		if reflect.DeepEqual(embeds, current.SystemEmbeds) {
			return
		}

		updated, err := s.repo.SetSystemEmbeds(ctx, messageID, embeds)
		if err != nil {
			s.log.Warn().Err(err).Str("message_id", messageID).Msg("Failed to store unfurled embeds")
			return
		}

		files, err := s.loadFiles(ctx, updated.FileIDs)
		if err != nil {
			s.log.Warn().Err(err).Str("message_id", messageID).Msg("Failed to load files for unfurl update")
		}
		s.publish(ctx, event.MessageUpdated{Message: s.project(updated, files)})
	}()
}

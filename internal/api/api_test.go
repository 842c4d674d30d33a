package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/kajgg/kaj-server/internal/auth"
	"github.com/kajgg/kaj-server/internal/channel"
	"github.com/kajgg/kaj-server/internal/event"
	"github.com/kajgg/kaj-server/internal/file"
	"github.com/kajgg/kaj-server/internal/invite"
	"github.com/kajgg/kaj-server/internal/message"
	"github.com/kajgg/kaj-server/internal/model"
	"github.com/kajgg/kaj-server/internal/objstore"
	"github.com/kajgg/kaj-server/internal/user"
	"github.com/kajgg/kaj-server/internal/webhook"
)

// authAs bypasses token auth in tests by planting the user directly.
func authAs(u *user.User) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(auth.LocalUser, u)
		c.Locals(auth.LocalUserID, u.ID)
		return c.Next()
	}
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

type fakeUsersRepo struct {
	user.Repository

	byID map[string]*user.User
}

func (f *fakeUsersRepo) GetByID(_ context.Context, id string) (*user.User, error) {
	if u, ok := f.byID[id]; ok {
		return u, nil
	}
	return nil, user.ErrNotFound
}

func (f *fakeUsersRepo) GetByIDs(_ context.Context, ids []string) ([]user.User, error) {
	var out []user.User
	for _, id := range ids {
		if u, ok := f.byID[id]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (f *fakeUsersRepo) GetByUsernames(context.Context, []string) ([]user.User, error) {
	return nil, nil
}

func (f *fakeUsersRepo) AddBytes(context.Context, string, int64) error { return nil }

func (f *fakeUsersRepo) Update(_ context.Context, id string, params user.UpdateParams) (*user.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	if params.Username != nil {
		u.Username = *params.Username
	}
	if params.Email != nil {
		u.Email = *params.Email
	}
	if params.DefaultStatus != nil {
		u.DefaultStatus = *params.DefaultStatus
	}
	if params.Bio != nil {
		u.Bio = params.Bio
	}
	if params.AvatarURL != nil {
		u.AvatarURL = params.AvatarURL
	} else if params.SetAvatarNull {
		u.AvatarURL = nil
	}
	cp := *u
	return &cp, nil
}

type fakeChannelsRepo struct {
	channel.Repository

	mu       sync.Mutex
	ch       *channel.Channel
	access   map[string]bool
	members  map[string]bool
	deleted  bool
	createFn func(channel.CreateParams) *channel.Channel
}

func (f *fakeChannelsRepo) Create(_ context.Context, p channel.CreateParams) (*channel.Channel, error) {
	return f.createFn(p), nil
}

func (f *fakeChannelsRepo) GetByID(_ context.Context, id string) (*channel.Channel, error) {
	if f.ch == nil || f.ch.ID != id {
		return nil, channel.ErrNotFound
	}
	return f.ch, nil
}

func (f *fakeChannelsRepo) CanAccess(_ context.Context, _, userID string) (bool, error) {
	return f.access[userID], nil
}

func (f *fakeChannelsRepo) AddMember(_ context.Context, _, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members == nil {
		f.members = make(map[string]bool)
	}
	if f.members[userID] {
		return channel.ErrAlreadyMember
	}
	f.members[userID] = true
	return nil
}

func (f *fakeChannelsRepo) RemoveMember(_ context.Context, _, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.members[userID] {
		return channel.ErrNotMember
	}
	delete(f.members, userID)
	return nil
}

func (f *fakeChannelsRepo) MemberIDs(context.Context, string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.members))
	for id := range f.members {
		out = append(out, id)
	}
	return out, nil
}

func (f *fakeChannelsRepo) Delete(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = true
	return nil
}

func (f *fakeChannelsRepo) SetLastMessageAt(context.Context, string, time.Time) error { return nil }

func (f *fakeChannelsRepo) PublicChannelIDs(context.Context) ([]string, error) { return nil, nil }

type captureBus struct {
	mu   sync.Mutex
	envs []event.Envelope
}

func (b *captureBus) Publish(_ context.Context, env event.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.envs = append(b.envs, env)
	return nil
}

func (b *captureBus) events(t *testing.T) []event.Event {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]event.Event, 0, len(b.envs))
	for _, env := range b.envs {
		ev, err := event.Decode(env)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		out = append(out, ev)
	}
	return out
}

type stubPresence struct {
	online bool
	fresh  bool
}

func (p stubPresence) Online(context.Context, string) (bool, error) { return p.online, nil }

func (p stubPresence) SetTyping(context.Context, string, string) (bool, error) {
	return p.fresh, nil
}

// memMessagesRepo is just enough of a message store for handler tests.
type memMessagesRepo struct {
	message.Repository

	mu       sync.Mutex
	messages []message.Message
}

func (r *memMessagesRepo) Create(_ context.Context, p message.CreateParams) (*message.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	m := message.Message{
		ID: p.ID, ChannelID: p.ChannelID, AuthorID: p.AuthorID, Type: p.Type,
		Content: p.Content, Nonce: p.Nonce, FileIDs: p.FileIDs,
		UserEmbeds: p.UserEmbeds, Mentions: p.Mentions,
		CreatedAt: now, UpdatedAt: now,
	}
	r.messages = append(r.messages, m)
	return &m, nil
}

func (r *memMessagesRepo) GetByID(context.Context, string, string) (*message.Message, error) {
	return nil, message.ErrNotFound
}

func (r *memMessagesRepo) types() []model.MessageType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.MessageType, 0, len(r.messages))
	for _, m := range r.messages {
		out = append(out, m.Type)
	}
	return out
}

type fakeFilesRepo struct {
	file.Repository

	mu   sync.Mutex
	byID map[string]*file.File
}

func (f *fakeFilesRepo) Create(_ context.Context, p file.CreateParams) (*file.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byID == nil {
		f.byID = make(map[string]*file.File)
	}
	record := &file.File{
		ID: p.ID, OwnerID: p.OwnerID, Name: p.Name,
		MimeType: p.MimeType, Size: p.Size, CreatedAt: time.Now(),
	}
	f.byID[record.ID] = record
	return record, nil
}

func (f *fakeFilesRepo) GetByID(_ context.Context, id string) (*file.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if record, ok := f.byID[id]; ok {
		return record, nil
	}
	return nil, file.ErrNotFound
}

func (f *fakeFilesRepo) GetByIDs(_ context.Context, ids []string) ([]file.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []file.File
	for _, id := range ids {
		if record, ok := f.byID[id]; ok {
			out = append(out, *record)
		}
	}
	return out, nil
}

func (f *fakeFilesRepo) MarkUploaded(_ context.Context, id string, at time.Time) (*file.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.byID[id]
	if !ok {
		return nil, file.ErrNotFound
	}
	record.Uploaded = true
	record.UploadedAt = &at
	cp := *record
	return &cp, nil
}

type fakeStore struct {
	mu      sync.Mutex
	sizes   map[string]int64
	putKeys []string
}

func (s *fakeStore) Put(_ context.Context, key, _ string, _ io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putKeys = append(s.putKeys, key)
	return nil
}

func (s *fakeStore) Head(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	size, ok := s.sizes[key]
	if !ok {
		return 0, objstore.ErrNotFound
	}
	return size, nil
}

func (s *fakeStore) Delete(context.Context, string) error { return nil }

func (s *fakeStore) PresignPut(_ context.Context, key, _ string) (string, error) {
	return "https://r2.test/" + key + "?signed=1", nil
}

func (s *fakeStore) URL(key string) string { return "https://files.test/" + key }

type fakeInvitesRepo struct {
	invite.Repository

	mu     sync.Mutex
	byCode map[string]*invite.Invite
}

func (f *fakeInvitesRepo) Redeem(_ context.Context, code string) (*invite.Invite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.byCode[code]
	if !ok {
		return nil, invite.ErrNotFound
	}
	if !inv.Usable(time.Now()) {
		return nil, invite.ErrUnusable
	}
	inv.Uses++
	cp := *inv
	return &cp, nil
}

type fakeWebhooksRepo struct {
	webhook.Repository

	byID map[string]*webhook.Webhook
}

func (f *fakeWebhooksRepo) GetByID(_ context.Context, id string) (*webhook.Webhook, error) {
	if wh, ok := f.byID[id]; ok {
		return wh, nil
	}
	return nil, webhook.ErrNotFound
}

// newMessagesService wires a message service over the in-memory fakes.
func newMessagesService(channels channel.Repository, users user.Repository, bus message.Publisher) (*message.Service, *memMessagesRepo) {
	repo := &memMessagesRepo{}
	svc := message.NewService(repo, channels, users, &fakeFilesRepo{}, bus, nil, nil,
		zerolog.Nop(), "test", "https://files.test", 10)
	return svc, repo
}

func testUser(id, name string) *user.User {
	return &user.User{ID: id, Username: name, DefaultStatus: model.StatusOnline}
}

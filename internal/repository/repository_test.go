package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"bitwise74/reactions-api/db"
	"bitwise74/reactions-api/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := db.New("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	return gdb
}

func attachment(key string) *model.Attachment {
	return &model.Attachment{
		ID:             uuid.NewString(),
		StorageKey:     key,
		ContentType:    "audio/mpeg",
		DocType:        "RecordedAudio",
		CreatedBy:      "alice",
		ConversationID: "question:42",
		Waveform:       model.Waveform{0.5, 1},
	}
}

func link(t *testing.T, r *Repository, key string, sender string, replyTo *uint) (*model.Entry, error) {
	t.Helper()

	return r.Link(context.Background(), LinkInput{
		Attachment:       attachment(key),
		ConversationID:   "question:42",
		ConversationKind: model.ConversationReaction,
		SenderID:         sender,
		ReplyToID:        replyTo,
	})
}

func TestLinkCreatesEverything(t *testing.T) {
	gdb := newTestDB(t)
	r := New(gdb)

	e, err := link(t, r, "audio-reactions/mp3_1.mp3", "alice", nil)
	require.NoError(t, err)
	assert.NotZero(t, e.ID)
	assert.Nil(t, e.ReplyCounter)

	var conv model.Conversation
	require.NoError(t, gdb.First(&conv, "id = ?", "question:42").Error)
	assert.Equal(t, model.ConversationReaction, conv.Kind)

	a, err := r.Attachment(context.Background(), e.AttachmentID)
	require.NoError(t, err)
	assert.Equal(t, model.Waveform{0.5, 1}, a.Waveform)

	ids, err := r.Participants(context.Background(), "question:42")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, ids)
}

func TestReplyCounterStartsAtOneAndIncrements(t *testing.T) {
	gdb := newTestDB(t)
	r := New(gdb)

	parent, err := link(t, r, "audio-reactions/mp3_1.mp3", "alice", nil)
	require.NoError(t, err)

	_, err = link(t, r, "audio-reactions/mp3_2.mp3", "bob", &parent.ID)
	require.NoError(t, err)

	var got model.Entry
	require.NoError(t, gdb.First(&got, parent.ID).Error)
	require.NotNil(t, got.ReplyCounter)
	assert.Equal(t, 1, *got.ReplyCounter)

	_, err = link(t, r, "audio-reactions/mp3_3.mp3", "carol", &parent.ID)
	require.NoError(t, err)

	require.NoError(t, gdb.First(&got, parent.ID).Error)
	assert.Equal(t, 2, *got.ReplyCounter)

	ids, err := r.Participants(context.Background(), "question:42")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, ids)
}

func TestConcurrentRepliesAreNotLost(t *testing.T) {
	gdb := newTestDB(t)
	r := New(gdb)

	parent, err := link(t, r, "audio-reactions/mp3_0.mp3", "alice", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := link(t, r, fmt.Sprintf("audio-reactions/mp3_r%d.mp3", i), "bob", &parent.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	var got model.Entry
	require.NoError(t, gdb.First(&got, parent.ID).Error)
	assert.Equal(t, 2, *got.ReplyCounter)
}

func TestLinkMissingReplyTargetRollsBack(t *testing.T) {
	gdb := newTestDB(t)
	r := New(gdb)

	missing := uint(999)
	_, err := link(t, r, "audio-reactions/mp3_1.mp3", "alice", &missing)
	assert.ErrorIs(t, err, ErrReplyTargetNotFound)

	var count int64
	require.NoError(t, gdb.Model(&model.Attachment{}).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, gdb.Model(&model.Entry{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestLinkReplyTargetInOtherConversation(t *testing.T) {
	gdb := newTestDB(t)
	r := New(gdb)

	other, err := r.Link(context.Background(), LinkInput{
		Attachment:       attachment("chat-attachments/png_1.png"),
		ConversationID:   "chat:7",
		ConversationKind: model.ConversationChat,
		SenderID:         "alice",
	})
	require.NoError(t, err)

	_, err = link(t, r, "audio-reactions/mp3_1.mp3", "bob", &other.ID)
	assert.ErrorIs(t, err, ErrReplyTargetNotFound)

	var got model.Entry
	require.NoError(t, gdb.First(&got, other.ID).Error)
	assert.Nil(t, got.ReplyCounter)
}

func TestLinkDuplicateKeyFails(t *testing.T) {
	r := New(newTestDB(t))

	_, err := link(t, r, "audio-reactions/mp3_1.mp3", "alice", nil)
	require.NoError(t, err)

	_, err = link(t, r, "audio-reactions/mp3_1.mp3", "alice", nil)
	assert.Error(t, err)
}

func TestLinkConversationKindMismatch(t *testing.T) {
	r := New(newTestDB(t))

	_, err := link(t, r, "audio-reactions/mp3_1.mp3", "alice", nil)
	require.NoError(t, err)

	_, err = r.Link(context.Background(), LinkInput{
		Attachment:       attachment("chat-attachments/png_1.png"),
		ConversationID:   "question:42",
		ConversationKind: model.ConversationChat,
		SenderID:         "alice",
	})
	assert.ErrorIs(t, err, ErrConversationKind)
}

func TestJoinAndLeave(t *testing.T) {
	ctx := context.Background()
	r := New(newTestDB(t))

	require.NoError(t, r.Join(ctx, "chat:7", model.ConversationChat, "carol", "bob", "carol", ""))
	require.NoError(t, r.Join(ctx, "chat:7", model.ConversationChat, "bob"))

	ids, err := r.Participants(ctx, "chat:7")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "carol"}, ids)

	require.NoError(t, r.Leave(ctx, "chat:7", "carol"))
	require.NoError(t, r.Leave(ctx, "chat:7", "carol"))

	ids, err = r.Participants(ctx, "chat:7")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, ids)

	assert.ErrorIs(t, r.Join(ctx, "chat:7", model.ConversationReaction, "dave"), ErrConversationKind)
}

func TestAttachmentNotFound(t *testing.T) {
	r := New(newTestDB(t))

	_, err := r.Attachment(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVendorConfigs(t *testing.T) {
	gdb := newTestDB(t)
	r := New(gdb)

	require.NoError(t, gdb.Create(&model.VendorConfig{Tag: "aws_s3", ConfigDetail: `{"bucket_name":"b"}`}).Error)

	c, err := r.VendorConfig(context.Background(), "aws_s3")
	require.NoError(t, err)
	assert.JSONEq(t, `{"bucket_name":"b"}`, c.ConfigDetail)

	_, err = r.VendorConfig(context.Background(), "gcs")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := r.VendorConfigs(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSaveNotification(t *testing.T) {
	gdb := newTestDB(t)
	r := New(gdb)

	require.NoError(t, r.SaveNotification(context.Background(), &model.Notification{UserID: "bob", Title: "New Attachment"}))

	var n model.Notification
	require.NoError(t, gdb.First(&n).Error)
	assert.Equal(t, "bob", n.UserID)
}

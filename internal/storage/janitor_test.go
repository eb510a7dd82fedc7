package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJanitorSweep(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("")

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now.Add(-48 * time.Hour) }
	_, err := m.CreateMultipartUpload(ctx, "audio-reactions/mp3_20240429120000.mp3", "audio/mpeg")
	require.NoError(t, err)
	_, err = m.CreateMultipartUpload(ctx, "other/mp3_20240429120000.mp3", "audio/mpeg")
	require.NoError(t, err)

	m.now = func() time.Time { return now.Add(-time.Minute) }
	_, err = m.CreateMultipartUpload(ctx, "chat-attachments/pdf_20240501115900.pdf", "application/pdf")
	require.NoError(t, err)

	j := NewJanitor(m, m, 24*time.Hour, PrefixAudioReactions, PrefixChatAttachments)
	j.now = func() time.Time { return now }

	n, err := j.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := m.ListMultipartUploads(ctx, "")
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, "chat-attachments/pdf_20240501115900.pdf", left[0].Key)
	assert.Equal(t, "other/mp3_20240429120000.mp3", left[1].Key)
}

func TestJanitorRejectsBadSchedule(t *testing.T) {
	m := NewMemory("")
	j := NewJanitor(m, m, time.Hour, PrefixAudioReactions)

	assert.Error(t, j.Start("not a schedule"))
	j.Stop()
}

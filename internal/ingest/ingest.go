// Package ingest runs an upload through every stage: classification,
// normalization, key allocation, multipart upload and linking. Stages run
// strictly in order and a failing stage stops the ingestion.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"bitwise74/reactions-api/internal/apperr"
	"bitwise74/reactions-api/internal/linker"
	"bitwise74/reactions-api/internal/media"
	"bitwise74/reactions-api/internal/metrics"
	"bitwise74/reactions-api/internal/model"
	"bitwise74/reactions-api/internal/storage"

	"go.uber.org/zap"
)

type Entry string

const (
	// Voice reactions to a daily question. Audio only.
	EntryReaction Entry = "reaction"
	// Files posted into a chat room.
	EntryChat Entry = "chat"
)

// Request is a single upload as received from a client.
type Request struct {
	Entry           Entry
	Body            io.Reader
	FileName        string
	ContentType     string
	IsRecordedAudio bool
	ReplyToID       *uint
	ConversationRef string
	SenderID        string
	TimeStamp       string
}

type Result struct {
	Attachment *model.Attachment
	Entry      *model.Entry
	Class      media.Classification
	URL        string
	Waveform   []float64
	TimeStamp  string
}

type Normalizer interface {
	Normalize(ctx context.Context, src string, c media.Classified) (*media.Normalized, error)
}

type KeyAllocator interface {
	Allocate(ctx context.Context, prefix, ext string) (string, error)
}

type ChunkUploader interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) (*storage.Result, error)
}

type URLSigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	PublicURL(key string) string
}

type AttachmentLinker interface {
	Link(ctx context.Context, up *storage.Result, req linker.Request) (*model.Attachment, *model.Entry, error)
}

type Options struct {
	PresignTTL time.Duration
	// Where uploads are spooled, empty means os.TempDir
	TempDir string
	Metrics *metrics.Metrics
}

type Pipeline struct {
	normalizer Normalizer
	keys       KeyAllocator
	uploader   ChunkUploader
	signer     URLSigner
	linker     AttachmentLinker
	opts       Options
}

func New(n Normalizer, k KeyAllocator, u ChunkUploader, s URLSigner, l AttachmentLinker, opts Options) *Pipeline {
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = time.Hour
	}

	return &Pipeline{
		normalizer: n,
		keys:       k,
		uploader:   u,
		signer:     s,
		linker:     l,
		opts:       opts,
	}
}

// Ingest stores the upload and links it. On failure the returned error is an
// *apperr.Error, except for unexpected local failures.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	res, size, err := p.ingest(ctx, req)
	p.opts.Metrics.ObserveIngest(string(req.Entry), time.Since(start), size, err)

	return res, err
}

func (p *Pipeline) ingest(ctx context.Context, req Request) (*Result, int64, error) {
	if req.Body == nil {
		return nil, 0, apperr.New(apperr.InvalidInput, "No file found")
	}

	if req.Entry != EntryReaction && req.Entry != EntryChat {
		return nil, 0, apperr.New(apperr.InvalidInput, "Unknown upload type")
	}

	prefix := make([]byte, media.SniffLen)
	n, err := io.ReadFull(req.Body, prefix)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, 0, apperr.Wrap(apperr.InvalidInput, "Failed to read file", err)
	}
	prefix = prefix[:n]

	classified, err := media.Classify(media.SniffInput{
		Filename:        req.FileName,
		ContentType:     req.ContentType,
		Prefix:          prefix,
		IsRecordedAudio: req.IsRecordedAudio,
	})
	if err != nil {
		return nil, 0, err
	}

	if req.Entry == EntryReaction && !classified.Class.IsAudio() {
		return nil, 0, apperr.New(apperr.UnsupportedType, "Please record an audio")
	}

	spool, err := p.spool(prefix, req.Body, classified.Ext)
	if err != nil {
		return nil, 0, err
	}
	defer os.Remove(spool)

	norm, err := p.normalizer.Normalize(ctx, spool, classified)
	if err != nil {
		return nil, 0, err
	}
	defer norm.Close()

	keyPrefix := storage.PrefixChatAttachments
	kind := model.ConversationChat
	if req.Entry == EntryReaction {
		keyPrefix = storage.PrefixAudioReactions
		kind = model.ConversationReaction
	}

	key, err := p.keys.Allocate(ctx, keyPrefix, norm.Ext)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(norm.Path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open normalized file, %w", err)
	}
	defer f.Close()

	up, err := p.uploader.Upload(ctx, key, f, norm.ContentType)
	if err != nil {
		return nil, 0, err
	}

	url, err := p.signer.PresignGet(ctx, key, p.opts.PresignTTL)
	if err != nil {
		zap.L().Warn("Failed to presign url, using public url", zap.String("key", key), zap.Error(err))
		url = p.signer.PublicURL(key)
	}

	a, e, err := p.linker.Link(ctx, up, linker.Request{
		ConversationKind: kind,
		ConversationRef:  req.ConversationRef,
		SenderID:         req.SenderID,
		ReplyToID:        req.ReplyToID,
		TimeStamp:        req.TimeStamp,
		FileName:         req.FileName,
		Class:            classified.Class,
		Duration:         norm.Duration,
		Waveform:         norm.Waveform,
		URL:              p.signer.PublicURL(key),
	})
	if err != nil {
		// The object stays in the bucket and has to be reconciled by hand
		zap.L().Error("Orphaned object",
			zap.String("key", key),
			zap.String("upload_id", up.UploadID),
			zap.String("sender_id", req.SenderID),
			zap.Error(err))
		p.opts.Metrics.Orphaned()
		return nil, 0, err
	}

	return &Result{
		Attachment: a,
		Entry:      e,
		Class:      classified.Class,
		URL:        url,
		Waveform:   norm.Waveform,
		TimeStamp:  req.TimeStamp,
	}, up.Size, nil
}

// spool writes the already read prefix and the rest of body into a temp
// file and returns its path.
func (p *Pipeline) spool(prefix []byte, body io.Reader, ext string) (string, error) {
	f, err := os.CreateTemp(p.opts.TempDir, "upload-*"+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file, %w", err)
	}

	_, err = f.Write(prefix)
	if err == nil {
		_, err = io.Copy(f, body)
	}

	if cerr := f.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		os.Remove(f.Name())
		return "", apperr.Wrap(apperr.InvalidInput, "Failed to read file", err)
	}

	return f.Name(), nil
}

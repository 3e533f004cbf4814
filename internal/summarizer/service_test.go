package summarizer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/framescribe/internal/cache"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/media"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/sampler"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/storage"
	"github.com/therealutkarshpriyadarshi/framescribe/pkg/models"
)

var errNotFound = errors.New("not found")

// memRepo is an in-memory Repository
type memRepo struct {
	mu         sync.Mutex
	videos     map[string]*models.Video
	summaries  map[string][]*models.Summary
	embeddings map[string][]float32
	updates    int
	summaryErr error
	getCalls   int
}

func newMemRepo() *memRepo {
	return &memRepo{
		videos:     map[string]*models.Video{},
		summaries:  map[string][]*models.Summary{},
		embeddings: map[string][]float32{},
	}
}

func (r *memRepo) CreateVideo(ctx context.Context, video *models.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if video.ID == "" {
		video.ID = uuid.New().String()
	}
	video.CreatedAt = time.Now()
	cp := *video
	r.videos[video.ID] = &cp
	return nil
}

func (r *memRepo) UpdateVideo(ctx context.Context, video *models.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.videos[video.ID]; !ok {
		return errNotFound
	}
	r.updates++
	cp := *video
	cp.Summaries = nil
	r.videos[video.ID] = &cp
	return nil
}

func (r *memRepo) CreateSummaries(ctx context.Context, videoID string, records []models.SummaryRecord) ([]*models.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.summaryErr != nil {
		return nil, r.summaryErr
	}
	out := make([]*models.Summary, len(records))
	for i, rec := range records {
		out[i] = &models.Summary{ID: uuid.New().String(), VideoID: videoID, SummaryRecord: rec}
	}
	r.summaries[videoID] = append(r.summaries[videoID], out...)
	return out, nil
}

func (r *memRepo) GetVideo(ctx context.Context, id string) (*models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getCalls++
	v, ok := r.videos[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *v
	return &cp, nil
}

func (r *memRepo) GetSummaries(ctx context.Context, videoID string, skip, limit int) ([]*models.Summary, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := append([]*models.Summary(nil), r.summaries[videoID]...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].TimestampSeconds < all[j].TimestampSeconds })
	total := len(all)
	if skip > len(all) {
		skip = len(all)
	}
	all = all[skip:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

func (r *memRepo) ListVideos(ctx context.Context, limit, offset int) ([]*models.Video, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Video
	for _, v := range r.videos {
		out = append(out, v)
	}
	return out, len(out), nil
}

func (r *memRepo) SetSummaryEmbedding(ctx context.Context, summaryID string, embedding []float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[summaryID] = embedding
	return nil
}

func (r *memRepo) SearchSummaries(ctx context.Context, videoID string, embedding []float32, limit int) ([]*models.SummarySearchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SummarySearchResult
	for _, s := range r.summaries[videoID] {
		if _, ok := r.embeddings[s.ID]; ok {
			out = append(out, &models.SummarySearchResult{Summary: *s, Similarity: 1})
		}
	}
	return out, nil
}

func (r *memRepo) video(t *testing.T) *models.Video {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.Len(t, r.videos, 1)
	for _, v := range r.videos {
		return v
	}
	return nil
}

type fakeProber struct {
	info *media.VideoInfo
	err  error
	path string
}

func (p *fakeProber) Probe(ctx context.Context, path string) (*media.VideoInfo, error) {
	p.path = path
	return p.info, p.err
}

type fakeLocal struct {
	records []models.SummaryRecord
	err     error
	path    string
}

func (l *fakeLocal) Run(ctx context.Context, path string, interval int) ([]models.SummaryRecord, error) {
	l.path = path
	return l.records, l.err
}

type fakeRemote struct {
	records []models.SummaryRecord
	err     error
	req     pipeline.RemoteRequest
}

func (r *fakeRemote) Run(ctx context.Context, req pipeline.RemoteRequest) ([]models.SummaryRecord, error) {
	r.req = req
	return r.records, r.err
}

type fakePublisher struct {
	jobs []*models.RemoteJob
	err  error
}

func (p *fakePublisher) PublishRemoteJob(ctx context.Context, job *models.RemoteJob) error {
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, job)
	return nil
}

type fakeStore struct {
	downloads []string
	uploads   []string
	err       error
}

func (s *fakeStore) Download(ctx context.Context, bucket, key, localPath string) error {
	if s.err != nil {
		return s.err
	}
	s.downloads = append(s.downloads, bucket+"/"+key)
	return os.WriteFile(localPath, []byte("video"), 0644)
}

func (s *fakeStore) Upload(ctx context.Context, localPath, bucket, key string) (string, string, error) {
	if s.err != nil {
		return "", "", s.err
	}
	if bucket == "" {
		bucket = "default"
	}
	s.uploads = append(s.uploads, bucket+"/"+key)
	return bucket, key, nil
}

type fakeEmbedder struct{ calls int }

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	return []float32{float32(len(text)), 1}, nil
}

func records(n int) []models.SummaryRecord {
	out := make([]models.SummaryRecord, n)
	for i := range out {
		out[i] = models.SummaryRecord{
			Timestamp:        fmt.Sprintf("0:%02d", i*2),
			TimestampSeconds: float64(i * 2),
			Description:      fmt.Sprintf("frame %d", i),
			FrameNumber:      i,
		}
	}
	return out
}

func goodInfo() *media.VideoInfo {
	return &media.VideoInfo{Width: 640, Height: 360, FPS: 30, FrameCount: 1950, HasVideo: true}
}

func TestProcessFile(t *testing.T) {
	repo := newMemRepo()
	local := &fakeLocal{records: records(7)}
	embedder := &fakeEmbedder{}
	svc := New(Deps{Repo: repo, Prober: &fakeProber{info: goodInfo()}, Local: local, Embedder: embedder})

	title := "demo"
	video, err := svc.ProcessFile(context.Background(), LocalRequest{Path: "/tmp/in.mp4", Title: &title, Interval: 2})
	require.NoError(t, err)

	assert.Equal(t, models.VideoStatusCompleted, video.Status)
	assert.Equal(t, 7, video.TotalFrames)
	assert.Equal(t, "1:05", video.Duration)
	assert.Equal(t, "frame 0 frame 1 frame 2 frame 3 frame 4", video.KeyTopics)
	assert.Equal(t, "/tmp/in.mp4", video.VideoURL)
	require.Len(t, video.Summaries, 7)
	assert.Equal(t, 7, embedder.calls)

	stored := repo.video(t)
	assert.Equal(t, models.VideoStatusCompleted, stored.Status)
	assert.Equal(t, models.ModeLocal, stored.Mode)
	assert.Len(t, repo.embeddings, 7)
}

func TestProcessFileUnreadableCreatesNoRow(t *testing.T) {
	repo := newMemRepo()
	prober := &fakeProber{err: fmt.Errorf("%w: moov atom not found", sampler.ErrSourceUnreadable)}
	local := &fakeLocal{}
	svc := New(Deps{Repo: repo, Prober: prober, Local: local})

	_, err := svc.ProcessFile(context.Background(), LocalRequest{Path: "bad.mp4", Interval: 1})
	assert.ErrorIs(t, err, sampler.ErrSourceUnreadable)
	assert.Empty(t, repo.videos)
	assert.Empty(t, local.path)
}

func TestProcessFileInvalidInterval(t *testing.T) {
	repo := newMemRepo()
	prober := &fakeProber{info: goodInfo()}
	svc := New(Deps{Repo: repo, Prober: prober, Local: &fakeLocal{}})

	_, err := svc.ProcessFile(context.Background(), LocalRequest{Path: "a.mp4", Interval: 0})
	assert.ErrorIs(t, err, pipeline.ErrInvalidInterval)
	assert.Empty(t, prober.path)
	assert.Empty(t, repo.videos)
}

func TestProcessFilePipelineFailure(t *testing.T) {
	repo := newMemRepo()
	svc := New(Deps{
		Repo:   repo,
		Prober: &fakeProber{info: goodInfo()},
		Local:  &fakeLocal{err: fmt.Errorf("%w: decoder crashed", sampler.ErrSourceUnreadable)},
	})

	_, err := svc.ProcessFile(context.Background(), LocalRequest{Path: "a.mp4", Interval: 1})
	assert.ErrorIs(t, err, sampler.ErrSourceUnreadable)

	stored := repo.video(t)
	assert.Equal(t, models.VideoStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMsg, "decoder crashed")
	assert.Empty(t, repo.summaries)
}

func TestProcessFileSummaryWriteFailure(t *testing.T) {
	repo := newMemRepo()
	repo.summaryErr = errors.New("connection reset")
	svc := New(Deps{Repo: repo, Prober: &fakeProber{info: goodInfo()}, Local: &fakeLocal{records: records(3)}})

	_, err := svc.ProcessFile(context.Background(), LocalRequest{Path: "a.mp4", Interval: 1})
	require.Error(t, err)

	stored := repo.video(t)
	assert.Equal(t, models.VideoStatusFailed, stored.Status)
	assert.Equal(t, 0, stored.TotalFrames)
}

func TestProcessFileCancelledStillMarksFailed(t *testing.T) {
	repo := newMemRepo()
	svc := New(Deps{Repo: repo, Prober: &fakeProber{info: goodInfo()}, Local: &fakeLocal{err: context.Canceled}})

	_, err := svc.ProcessFile(context.Background(), LocalRequest{Path: "a.mp4", Interval: 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.VideoStatusFailed, repo.video(t).Status)
}

func TestProcessURLHTTP(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("fake video bytes"))
	}))
	defer server.Close()

	repo := newMemRepo()
	local := &fakeLocal{records: records(2)}
	tmp := t.TempDir()
	svc := New(Deps{Repo: repo, Prober: &fakeProber{info: goodInfo()}, Local: local, TempDir: tmp})

	video, err := svc.ProcessURL(context.Background(), URLRequest{URL: server.URL + "/clips/talk.webm", Interval: 1})
	require.NoError(t, err)

	assert.Equal(t, server.URL+"/clips/talk.webm", video.VideoURL)
	assert.Equal(t, ".webm", filepath.Ext(local.path))
	assert.Contains(t, gotUA, "Mozilla/5.0")

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries, "downloaded file should be removed")
}

func TestProcessURLBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	repo := newMemRepo()
	svc := New(Deps{Repo: repo, Prober: &fakeProber{info: goodInfo()}, Local: &fakeLocal{}, TempDir: t.TempDir()})

	_, err := svc.ProcessURL(context.Background(), URLRequest{URL: server.URL + "/v.mp4", Interval: 1})
	assert.ErrorIs(t, err, ErrDownload)
	assert.Empty(t, repo.videos)
}

func TestProcessURLUnsupportedScheme(t *testing.T) {
	svc := New(Deps{Repo: newMemRepo(), Prober: &fakeProber{info: goodInfo()}, Local: &fakeLocal{}, TempDir: t.TempDir()})

	_, err := svc.ProcessURL(context.Background(), URLRequest{URL: "ftp://host/v.mp4", Interval: 1})
	assert.ErrorIs(t, err, ErrDownload)
}

func TestProcessURLObjectStorage(t *testing.T) {
	store := &fakeStore{}
	svc := New(Deps{
		Repo: newMemRepo(), Prober: &fakeProber{info: goodInfo()}, Local: &fakeLocal{records: records(1)},
		Store: store, TempDir: t.TempDir(),
	})

	_, err := svc.ProcessURL(context.Background(), URLRequest{URL: "gs://videos/raw/clip.mp4", Interval: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"videos/raw/clip.mp4"}, store.downloads)
}

func TestProcessURLObjectStorageError(t *testing.T) {
	store := &fakeStore{err: fmt.Errorf("%w: access denied", storage.ErrStorage)}
	repo := newMemRepo()
	svc := New(Deps{Repo: repo, Prober: &fakeProber{info: goodInfo()}, Local: &fakeLocal{}, Store: store, TempDir: t.TempDir()})

	_, err := svc.ProcessURL(context.Background(), URLRequest{URL: "https://storage.googleapis.com/videos/a.mp4", Interval: 1})
	assert.ErrorIs(t, err, storage.ErrStorage)
	assert.Empty(t, repo.videos)
}

func TestSubmitAndProcessRemote(t *testing.T) {
	repo := newMemRepo()
	pub := &fakePublisher{}
	remote := &fakeRemote{records: records(4)}
	svc := New(Deps{Repo: repo, Publisher: pub, Remote: remote, BatchSize: 16})

	video, job, err := svc.SubmitRemote(context.Background(), RemoteSubmit{
		Bucket: "videos", ObjectKey: "raw/clip.mov", Interval: 3, ModelID: "llava:7b",
	})
	require.NoError(t, err)
	assert.Equal(t, models.VideoStatusProcessing, video.Status)
	assert.Equal(t, models.ModeRemote, video.Mode)
	require.Len(t, pub.jobs, 1)
	assert.Equal(t, video.ID, job.VideoID)
	assert.Equal(t, 16, job.BatchSize)

	require.NoError(t, svc.ProcessRemote(context.Background(), pub.jobs[0]))
	assert.Equal(t, job.ID, remote.req.JobID)
	assert.Equal(t, "raw/clip.mov", remote.req.ObjectKey)
	assert.Equal(t, 3, remote.req.IntervalSeconds)
	assert.Equal(t, "llava:7b", remote.req.ModelID)

	stored := repo.video(t)
	assert.Equal(t, models.VideoStatusCompleted, stored.Status)
	assert.Equal(t, 4, stored.TotalFrames)
}

func TestProcessRemoteTranscodeFailure(t *testing.T) {
	repo := newMemRepo()
	pub := &fakePublisher{}
	remote := &fakeRemote{err: fmt.Errorf("%w: exit status 1", media.ErrTranscode)}
	svc := New(Deps{Repo: repo, Publisher: pub, Remote: remote})

	_, job, err := svc.SubmitRemote(context.Background(), RemoteSubmit{Bucket: "b", ObjectKey: "k.mp4", Interval: 1})
	require.NoError(t, err)

	err = svc.ProcessRemote(context.Background(), job)
	assert.ErrorIs(t, err, media.ErrTranscode)
	assert.Equal(t, models.VideoStatusFailed, repo.video(t).Status)
}

func TestSubmitRemotePublishFailure(t *testing.T) {
	repo := newMemRepo()
	svc := New(Deps{Repo: repo, Publisher: &fakePublisher{err: errors.New("broker down")}})

	_, _, err := svc.SubmitRemote(context.Background(), RemoteSubmit{Bucket: "b", ObjectKey: "k", Interval: 1})
	require.Error(t, err)
	assert.Equal(t, models.VideoStatusFailed, repo.video(t).Status)
}

func TestSubmitRemoteValidation(t *testing.T) {
	svc := New(Deps{Repo: newMemRepo(), Publisher: &fakePublisher{}})

	_, _, err := svc.SubmitRemote(context.Background(), RemoteSubmit{Bucket: "b", Interval: 1})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, _, err = svc.SubmitRemote(context.Background(), RemoteSubmit{Bucket: "b", ObjectKey: "k", Interval: 61})
	assert.ErrorIs(t, err, pipeline.ErrInvalidInterval)
}

func TestSubmitRemoteFile(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	svc := New(Deps{Repo: newMemRepo(), Publisher: pub, Store: store})

	_, job, err := svc.SubmitRemoteFile(context.Background(), "/tmp/upload.MKV", RemoteSubmit{Interval: 1})
	require.NoError(t, err)

	require.Len(t, store.uploads, 1)
	assert.Equal(t, "default", job.Bucket)
	assert.Regexp(t, `^uploads/[0-9a-f-]{36}\.mkv$`, job.ObjectKey)
}

func TestGetVideoUsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := cache.NewCache(mr.Host(), mr.Server().Addr().Port, "", 0, cache.Options{VideoTTL: time.Minute})
	require.NoError(t, err)
	defer c.Close()

	repo := newMemRepo()
	svc := New(Deps{Repo: repo, Prober: &fakeProber{info: goodInfo()}, Local: &fakeLocal{records: records(3)}, Cache: c})

	video, err := svc.ProcessFile(context.Background(), LocalRequest{Path: "a.mp4", Interval: 1})
	require.NoError(t, err)

	first, err := svc.GetVideo(context.Background(), video.ID)
	require.NoError(t, err)
	require.Len(t, first.Summaries, 3)
	calls := repo.getCalls

	second, err := svc.GetVideo(context.Background(), video.ID)
	require.NoError(t, err)
	assert.Equal(t, calls, repo.getCalls, "second read should hit the cache")
	assert.Len(t, second.Summaries, 3)
	assert.Equal(t, "frame 0", second.Summaries[0].Description)
}

func TestStatusWriteDropsCachedVideo(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := cache.NewCache(mr.Host(), mr.Server().Addr().Port, "", 0, cache.Options{VideoTTL: time.Minute})
	require.NoError(t, err)
	defer c.Close()

	repo := newMemRepo()
	svc := New(Deps{Repo: repo, Publisher: &fakePublisher{}, Remote: &fakeRemote{records: records(2)}, Cache: c})

	video, job, err := svc.SubmitRemote(context.Background(), RemoteSubmit{Bucket: "b", ObjectKey: "k.mp4", Interval: 1})
	require.NoError(t, err)

	stale := *video
	stale.Status = models.VideoStatusFailed
	require.NoError(t, c.SetVideo(context.Background(), &stale))

	require.NoError(t, svc.ProcessRemote(context.Background(), job))

	got, err := svc.GetVideo(context.Background(), video.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStatusCompleted, got.Status)
	assert.Equal(t, 2, got.TotalFrames)
}

func TestGetSummariesUnknownVideo(t *testing.T) {
	svc := New(Deps{Repo: newMemRepo()})

	_, _, err := svc.GetSummaries(context.Background(), "missing", 0, 10)
	assert.ErrorIs(t, err, errNotFound)
}

func TestSearchSummaries(t *testing.T) {
	repo := newMemRepo()
	embedder := &fakeEmbedder{}
	svc := New(Deps{Repo: repo, Prober: &fakeProber{info: goodInfo()}, Local: &fakeLocal{records: records(2)}, Embedder: embedder})

	video, err := svc.ProcessFile(context.Background(), LocalRequest{Path: "a.mp4", Interval: 1})
	require.NoError(t, err)

	results, err := svc.SearchSummaries(context.Background(), video.ID, "frame", 5)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	_, err = svc.SearchSummaries(context.Background(), video.ID, "", 5)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = New(Deps{Repo: repo}).SearchSummaries(context.Background(), video.ID, "frame", 5)
	assert.ErrorIs(t, err, ErrSearchDisabled)
}

func TestSourceExt(t *testing.T) {
	assert.Equal(t, ".webm", sourceExt("https://host/path/a.WEBM?x=1"))
	assert.Equal(t, ".mp4", sourceExt("https://host/watch"))
	assert.Equal(t, ".mp4", sourceExt("https://host/file.verylongext"))
}

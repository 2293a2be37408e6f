package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/pkg/utils"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testConfig() config.Config {
	return config.Config{
		SecretKey:          testSecret,
		R2:                 config.R2{BucketName: "media"},
		PublishConcurrency: 4,
		SignedURLTTL:       time.Minute,
		InstagramPolling:   config.Polling{Interval: time.Millisecond, MaxAttempts: 5},
		TiktokPolling:      config.Polling{Interval: time.Millisecond, MaxAttempts: 5},
	}
}

func seal(s string) string {
	sealed, err := utils.NewTokenCipher(testSecret).Seal(s)
	if err != nil {
		panic(err)
	}
	return sealed
}

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
	baseURL string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}, baseURL: "https://blobs.test/"}
}

func (b *fakeBlobs) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if b.failPut {
		return errors.New("bucket unavailable")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return nil
}

func (b *fakeBlobs) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return b.baseURL + key, nil
}

func (b *fakeBlobs) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *fakeBlobs) Delete(ctx context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(b.objects, k)
	}
	return nil
}

func (b *fakeBlobs) keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.objects))
	for k := range b.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type fakeMediaRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   []*models.MediaFile
	fail   bool
}

func (r *fakeMediaRepo) Create(ctx context.Context, tx *sql.Tx, mf *models.MediaFile) (int64, error) {
	if r.fail {
		return 0, errors.New("insert failed")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	cp := *mf
	cp.ID = r.nextID
	r.rows = append(r.rows, &cp)
	return r.nextID, nil
}

func (r *fakeMediaRepo) ListByPostID(ctx context.Context, postID string) ([]*models.MediaFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.MediaFile
	for _, mf := range r.rows {
		if mf.PostID == postID {
			out = append(out, mf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (r *fakeMediaRepo) RemoveByPostID(ctx context.Context, postID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.rows[:0]
	for _, mf := range r.rows {
		if mf.PostID != postID {
			kept = append(kept, mf)
		}
	}
	r.rows = kept
	return nil
}

type fakePostRepo struct {
	mu    sync.Mutex
	posts map[string]*models.Post
}

func newFakePostRepo() *fakePostRepo {
	return &fakePostRepo{posts: map[string]*models.Post{}}
}

func (r *fakePostRepo) Create(ctx context.Context, tx *sql.Tx, post *models.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	post.CreatedAt = time.Now()
	cp := *post
	r.posts[post.ID] = &cp
	return nil
}

func (r *fakePostRepo) GetByID(ctx context.Context, id string) (*models.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.posts[id], nil
}

func (r *fakePostRepo) ListByUserID(ctx context.Context, userID int64) ([]*models.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Post
	for _, p := range r.posts {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakePostRepo) CheckByUserID(ctx context.Context, postID string, userID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[postID]
	return ok && p.UserID == userID, nil
}

func (r *fakePostRepo) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.posts, id)
	return nil
}

type fakePlatformPostRepo struct {
	mu   sync.Mutex
	rows []*models.PlatformPost
}

func (r *fakePlatformPostRepo) Create(ctx context.Context, pp *models.PlatformPost) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *pp
	cp.ID = int64(len(r.rows) + 1)
	r.rows = append(r.rows, &cp)
	return cp.ID, nil
}

func (r *fakePlatformPostRepo) ListByPostID(ctx context.Context, postID string) ([]*models.PlatformPost, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.PlatformPost
	for _, pp := range r.rows {
		if pp.PostID == postID {
			out = append(out, pp)
		}
	}
	return out, nil
}

type fakeAttemptRepo struct {
	mu   sync.Mutex
	rows []*models.PublishAttempt
}

func (r *fakeAttemptRepo) Create(ctx context.Context, pa *models.PublishAttempt) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *pa
	cp.ID = int64(len(r.rows) + 1)
	r.rows = append(r.rows, &cp)
	return cp.ID, nil
}

func (r *fakeAttemptRepo) ListByPostID(ctx context.Context, postID string, userID int64) ([]*models.PublishAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.PublishAttempt
	for _, pa := range r.rows {
		if pa.PostID == postID && pa.UserID == userID {
			out = append(out, pa)
		}
	}
	return out, nil
}

type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts map[int64]*models.SocialAccount
	removed  []int64
	tokens   map[int64]*models.SocialAccount
}

func newFakeAccountRepo(accounts ...*models.SocialAccount) *fakeAccountRepo {
	r := &fakeAccountRepo{accounts: map[int64]*models.SocialAccount{}, tokens: map[int64]*models.SocialAccount{}}
	for _, a := range accounts {
		r.accounts[a.ID] = a
	}
	return r
}

func (r *fakeAccountRepo) Create(ctx context.Context, tx *sql.Tx, sa *models.SocialAccount) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := int64(len(r.accounts) + 100)
	cp := *sa
	cp.ID = id
	r.accounts[id] = &cp
	return id, nil
}

func (r *fakeAccountRepo) GetByID(ctx context.Context, id int64) (*models.SocialAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r *fakeAccountRepo) ListByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SocialAccount
	for _, a := range r.accounts {
		if a.UserID == userID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeAccountRepo) ListByTimeInterval(ctx context.Context, initialTime, finalTime time.Time) ([]*models.SocialAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SocialAccount
	for _, a := range r.accounts {
		if !a.TokenExpiresAt.After(finalTime) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeAccountRepo) CheckByUserID(ctx context.Context, accountID, userID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	return ok && a.UserID == userID, nil
}

func (r *fakeAccountRepo) SetToken(ctx context.Context, id int64, oldAccessToken string, sa *models.SocialAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[id] = sa
	return nil
}

func (r *fakeAccountRepo) UpdateProfile(ctx context.Context, id int64, name, picture string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[id]; ok {
		if name != "" {
			a.AccountName = name
		}
		if picture != "" {
			a.ProfilePicture = picture
		}
	}
	return nil
}

func (r *fakeAccountRepo) Remove(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts, id)
	r.removed = append(r.removed, id)
	return nil
}

func (r *fakeAccountRepo) wasRemoved(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rid := range r.removed {
		if rid == id {
			return true
		}
	}
	return false
}

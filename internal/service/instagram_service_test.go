package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/transfer"
)

// graphFake is a minimal Graph API: containers finish after finishAfter
// polls unless a status is forced.
type graphFake struct {
	mu          sync.Mutex
	events      []string
	forms       map[string]map[string]string
	polls       map[string]int
	finishAfter int
	forceStatus string
	createError string
	items       int
	published   bool
}

func newGraphFake() *graphFake {
	return &graphFake{forms: map[string]map[string]string{}, polls: map[string]int{}, finishAfter: 2}
}

func (g *graphFake) log(e string) {
	g.events = append(g.events, e)
}

func (g *graphFake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	switch {
	case r.Method == http.MethodPost && path == "ig1/media":
		if g.createError != "" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, g.createError)
			return
		}
		_ = r.ParseForm()
		id := "single"
		switch {
		case r.PostForm.Get("is_carousel_item") == "true":
			g.items++
			id = fmt.Sprintf("item-%d", g.items)
		case r.PostForm.Get("media_type") == "CAROUSEL":
			id = "parent"
		}
		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		g.forms[id] = form
		g.log("create:" + id)
		fmt.Fprintf(w, `{"id":%q}`, id)

	case r.Method == http.MethodPost && path == "ig1/media_publish":
		g.published = true
		g.log("publish:" + r.FormValue("creation_id"))
		fmt.Fprint(w, `{"id":"media-1"}`)

	case r.Method == http.MethodGet && path == "ig1":
		fmt.Fprint(w, `{"id":"ig1","username":"renamed","profile_picture_url":"https://cdn.test/p.jpg"}`)

	case r.Method == http.MethodGet && path == "ig1/content_publishing_limit":
		fmt.Fprint(w, `{"data":[{"config":{"quota_total":25,"quota_duration":86400},"quota_usage":25}]}`)

	case r.Method == http.MethodGet:
		g.polls[path]++
		status := "IN_PROGRESS"
		switch {
		case g.forceStatus != "":
			status = g.forceStatus
		case g.polls[path] >= g.finishAfter:
			status = "FINISHED"
		}
		g.log("poll:" + path + ":" + status)
		fmt.Fprintf(w, `{"id":%q,"status_code":%q}`, path, status)

	default:
		http.NotFound(w, r)
	}
}

func newInstagramTest(t *testing.T, g *graphFake) (*instagramService, *fakeAccountRepo, *models.SocialAccount) {
	t.Helper()
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)

	cfg := testConfig()
	cfg.InstagramGraphURL = srv.URL
	acc := &models.SocialAccount{ID: 11, UserID: 7, Platform: models.PlatformInstagram, AccountID: "ig1", AccountName: "old", AccessToken: seal("page-token")}
	accounts := newFakeAccountRepo(acc)
	blobs := newFakeBlobs()
	staging := NewStagingService(cfg, blobs, &fakeMediaRepo{})
	return NewInstagramService(cfg, accounts, staging, blobs).(*instagramService), accounts, acc
}

func igJob(acc *models.SocialAccount, kinds ...string) *PublishJob {
	job := &PublishJob{Account: acc, Options: transfer.PublishOptions{InstagramCaption: "launch day"}}
	for i, k := range kinds {
		job.Media = append(job.Media, &models.MediaFile{Position: i, Kind: k, FilePath: fmt.Sprintf("7/p/%d", i)})
	}
	return job
}

func TestInstagramPublishSingleReel(t *testing.T) {
	g := newGraphFake()
	svc, _, acc := newInstagramTest(t, g)

	progress := 0
	job := igJob(acc, models.MediaKindVideo)
	job.Progress = func() { progress++ }

	id, err := svc.Publish(context.Background(), job)
	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if id != "media-1" {
		t.Fatalf("unexpected media id %q", id)
	}

	form := g.forms["single"]
	if form["media_type"] != "REELS" || form["caption"] != "launch day" {
		t.Fatalf("unexpected container form %v", form)
	}
	if form["video_url"] != "https://blobs.test/7/p/0" {
		t.Fatalf("expected signed url, got %q", form["video_url"])
	}
	if form["access_token"] != "page-token" {
		t.Fatal("page token not sent")
	}
	if g.polls["single"] != 2 || progress != 2 {
		t.Fatalf("expected 2 polls with progress, got %d and %d", g.polls["single"], progress)
	}
	if last := g.events[len(g.events)-1]; last != "publish:single" {
		t.Fatalf("publish must be last, got %v", g.events)
	}
}

func TestInstagramCarouselWaitsForEveryItem(t *testing.T) {
	g := newGraphFake()
	g.finishAfter = 3
	svc, _, acc := newInstagramTest(t, g)

	id, err := svc.Publish(context.Background(), igJob(acc, models.MediaKindImage, models.MediaKindVideo, models.MediaKindImage))
	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if id != "media-1" {
		t.Fatalf("unexpected media id %q", id)
	}

	parentAt := slices.Index(g.events, "create:parent")
	if parentAt < 0 {
		t.Fatalf("parent never created: %v", g.events)
	}
	for _, item := range []string{"item-1", "item-2", "item-3"} {
		finished := slices.Index(g.events, "poll:"+item+":FINISHED")
		if finished < 0 || finished > parentAt {
			t.Fatalf("%s finished at %d, parent created at %d: %v", item, finished, parentAt, g.events)
		}
		if _, ok := g.forms[item]["caption"]; ok {
			t.Fatalf("%s must not carry the caption", item)
		}
	}

	parent := g.forms["parent"]
	if parent["children"] != "item-1,item-2,item-3" || parent["caption"] != "launch day" {
		t.Fatalf("unexpected parent form %v", parent)
	}
	if g.forms["item-2"]["media_type"] != "VIDEO" || g.forms["item-1"]["image_url"] == "" {
		t.Fatalf("wrong item variants: %v / %v", g.forms["item-1"], g.forms["item-2"])
	}
	if g.events[len(g.events)-1] != "publish:parent" {
		t.Fatalf("expected parent published last, got %v", g.events)
	}
}

func TestInstagramExpiredContainerStopsPolling(t *testing.T) {
	g := newGraphFake()
	g.forceStatus = "EXPIRED"
	svc, _, acc := newInstagramTest(t, g)

	_, err := svc.Publish(context.Background(), igJob(acc, models.MediaKindVideo))
	g.mu.Lock()
	defer g.mu.Unlock()
	if !errors.Is(err, ErrProviderTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if err.Error() != "Instagram took too long to process your media. Please try again." {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if g.polls["single"] != 1 {
		t.Fatalf("expected a single poll, got %d", g.polls["single"])
	}
	if g.published {
		t.Fatal("expired container must not be published")
	}
}

func TestInstagramErrorContainerIsRejected(t *testing.T) {
	g := newGraphFake()
	g.forceStatus = "ERROR"
	svc, _, acc := newInstagramTest(t, g)

	_, err := svc.Publish(context.Background(), igJob(acc, models.MediaKindImage))
	if !errors.Is(err, ErrContentRejected) {
		t.Fatalf("expected content rejection, got %v", err)
	}
}

func TestInstagramPollTimeout(t *testing.T) {
	g := newGraphFake()
	g.finishAfter = 100
	svc, _, acc := newInstagramTest(t, g)

	_, err := svc.Publish(context.Background(), igJob(acc, models.MediaKindVideo))
	g.mu.Lock()
	defer g.mu.Unlock()
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("expected ErrPollTimeout, got %v", err)
	}
	if g.polls["single"] != testConfig().InstagramPolling.MaxAttempts {
		t.Fatalf("expected %d polls, got %d", testConfig().InstagramPolling.MaxAttempts, g.polls["single"])
	}
}

func TestInstagramStaleSessionRemovesAccount(t *testing.T) {
	g := newGraphFake()
	g.createError = `{"error":{"message":"Error validating access token","type":"OAuthException","code":190,"error_subcode":463}}`
	svc, accounts, acc := newInstagramTest(t, g)
	blobs := svc.blobs.(*fakeBlobs)
	acc.ProfilePicture = ProfilePicturePath(7, models.PlatformInstagram, acc.ID)
	blobs.objects[acc.ProfilePicture] = []byte("avatar")

	_, err := svc.Publish(context.Background(), igJob(acc, models.MediaKindImage))
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
	if err.Error() != instagramReconnectMessage {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if strings.Contains(err.Error(), "OAuthException") {
		t.Fatal("raw provider error leaked into the message")
	}
	if !accounts.wasRemoved(acc.ID) {
		t.Fatal("account with a stale session must be removed")
	}
	if _, ok := blobs.objects[acc.ProfilePicture]; ok {
		t.Fatal("profile picture of a removed account must be deleted")
	}
}

func TestInstagramRateLimitKeepsAccount(t *testing.T) {
	g := newGraphFake()
	g.createError = `{"error":{"message":"Application request limit reached","code":4}}`
	svc, accounts, acc := newInstagramTest(t, g)

	_, err := svc.Publish(context.Background(), igJob(acc, models.MediaKindImage))
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if accounts.wasRemoved(acc.ID) {
		t.Fatal("rate limit must not remove the account")
	}
}

func TestTranslateGraphError(t *testing.T) {
	cases := []struct {
		code, subcode, status int
		want                  error
	}{
		{190, 467, 400, ErrAuthExpired},
		{9, 2207042, 400, ErrRateLimited},
		{36003, 2207026, 400, ErrContentRejected},
		{17, 0, 400, ErrRateLimited},
		{2, 0, 500, ErrProviderTransient},
		{999, 0, 401, ErrAuthExpired},
		{999, 0, 400, ErrProviderTransient},
	}
	for _, tc := range cases {
		var resp transfer.InstagramErrorResponse
		resp.Error.Code, resp.Error.ErrorSubcode = tc.code, tc.subcode
		pe := translateGraphError("create", tc.status, &resp)
		if !errors.Is(pe, tc.want) {
			t.Errorf("code=%d subcode=%d: got kind %v, want %v", tc.code, tc.subcode, pe.Kind, tc.want)
		}
		if pe.Message == "" {
			t.Errorf("code=%d subcode=%d: empty message", tc.code, tc.subcode)
		}
	}
}

func TestInstagramCapabilityBlocksOnQuota(t *testing.T) {
	g := newGraphFake()
	svc, accounts, acc := newInstagramTest(t, g)

	c := svc.Capability(context.Background(), acc)
	if c.BlockingError != instagramQuotaMessage {
		t.Fatalf("expected quota block, got %+v", c)
	}
	if c.MaxDurationSec != 90 || c.MinDurationSec != 3 {
		t.Fatalf("unexpected limits %+v", c)
	}
	stored, _ := accounts.GetByID(context.Background(), acc.ID)
	if stored.AccountName != "renamed" {
		t.Fatalf("username not refreshed, got %q", stored.AccountName)
	}
}

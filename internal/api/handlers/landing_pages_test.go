package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plainly/internal/types"
)

type mockLandingPageStore struct {
	getBySlugFn func(ctx context.Context, slug string) (*types.LandingPage, error)

	viewedSlugs    []string
	convertedPages []string
	lastCreated    *types.LandingPage
}

func (m *mockLandingPageStore) List(ctx context.Context, userID string) ([]*types.LandingPage, error) {
	return []*types.LandingPage{publishedPage()}, nil
}

func (m *mockLandingPageStore) Create(ctx context.Context, p *types.LandingPage) error {
	m.lastCreated = p
	p.ID = "page_new"
	return nil
}

func (m *mockLandingPageStore) Update(ctx context.Context, p *types.LandingPage) error {
	return nil
}

func (m *mockLandingPageStore) Delete(ctx context.Context, userID, id string) error {
	return nil
}

func (m *mockLandingPageStore) GetPublishedBySlug(ctx context.Context, slug string) (*types.LandingPage, error) {
	if m.getBySlugFn != nil {
		return m.getBySlugFn(ctx, slug)
	}
	return publishedPage(), nil
}

func (m *mockLandingPageStore) IncrementViews(ctx context.Context, slug string) error {
	m.viewedSlugs = append(m.viewedSlugs, slug)
	return nil
}

func (m *mockLandingPageStore) IncrementConversions(ctx context.Context, pageID string) error {
	m.convertedPages = append(m.convertedPages, pageID)
	return nil
}

type mockPageSubscriberStore struct {
	createFn func(ctx context.Context, s *types.Subscriber) error

	lastCreated *types.Subscriber
	enrolled    []string
}

func (m *mockPageSubscriberStore) Create(ctx context.Context, s *types.Subscriber) error {
	m.lastCreated = s
	if m.createFn != nil {
		return m.createFn(ctx, s)
	}
	s.ID = "sub_new"
	return nil
}

func (m *mockPageSubscriberStore) Enroll(ctx context.Context, userID, subscriberID, sequenceID string) error {
	m.enrolled = append(m.enrolled, sequenceID)
	return nil
}

func publishedPage() *types.LandingPage {
	return &types.LandingPage{
		ID:               "page_1",
		UserID:           "owner_1",
		Name:             "Newsletter",
		Slug:             "newsletter",
		Template:         "simple",
		Headline:         "Join us",
		ButtonText:       "Subscribe",
		AssignTag:        "newsletter",
		AssignSequenceID: "seq_welcome",
		SuccessMessage:   "Check your inbox!",
		Status:           types.PagePublished,
	}
}

func newLandingRouters(pages *mockLandingPageStore, subs *mockPageSubscriberStore) (private, public http.Handler) {
	h := NewLandingPageHandler(pages, subs, testValidator(), testLogger())
	return newRouter(h.RegisterRoutes), newPublicRouter(h.RegisterPublicRoutes)
}

func TestLandingPageCreate(t *testing.T) {
	pages := &mockLandingPageStore{}
	private, _ := newLandingRouters(pages, &mockPageSubscriberStore{})

	w := httptest.NewRecorder()
	private.ServeHTTP(w, jsonRequest(t, http.MethodPost, "/pages", CreateLandingPageRequest{
		Name:       "Newsletter",
		Slug:       "newsletter",
		Template:   "simple",
		Headline:   "Join us",
		ButtonText: "Subscribe",
		Status:     types.PagePublished,
	}))

	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, pages.lastCreated)
	assert.Equal(t, testUserID, pages.lastCreated.UserID)
	assert.Equal(t, "newsletter", pages.lastCreated.Slug)
}

func TestLandingPageCreate_SlugWithSpacesRejected(t *testing.T) {
	private, _ := newLandingRouters(&mockLandingPageStore{}, &mockPageSubscriberStore{})

	w := httptest.NewRecorder()
	private.ServeHTTP(w, jsonRequest(t, http.MethodPost, "/pages", CreateLandingPageRequest{
		Name:       "Newsletter",
		Slug:       "my page",
		Template:   "simple",
		Headline:   "Join us",
		ButtonText: "Subscribe",
	}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLandingPagePublicGet_IncrementsViews(t *testing.T) {
	pages := &mockLandingPageStore{}
	_, public := newLandingRouters(pages, &mockPageSubscriberStore{})

	w := httptest.NewRecorder()
	public.ServeHTTP(w, jsonRequest(t, http.MethodGet, "/p/newsletter", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"newsletter"}, pages.viewedSlugs)

	var page types.LandingPage
	decodeData(t, w, &page)
	assert.Equal(t, "Join us", page.Headline)
}

func TestLandingPagePublicGet_NotPublished(t *testing.T) {
	pages := &mockLandingPageStore{
		getBySlugFn: func(ctx context.Context, slug string) (*types.LandingPage, error) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPage, "landing page not found", nil)
		},
	}
	_, public := newLandingRouters(pages, &mockPageSubscriberStore{})

	w := httptest.NewRecorder()
	public.ServeHTTP(w, jsonRequest(t, http.MethodGet, "/p/draft-page", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, pages.viewedSlugs)
}

func TestLandingPageSubscribe_FullFlow(t *testing.T) {
	pages := &mockLandingPageStore{}
	subs := &mockPageSubscriberStore{}
	_, public := newLandingRouters(pages, subs)

	w := httptest.NewRecorder()
	public.ServeHTTP(w, jsonRequest(t, http.MethodPost, "/p/newsletter/subscribe", PageSubscribeRequest{
		Email:     "visitor@example.com",
		FirstName: "Vi",
	}))

	require.Equal(t, http.StatusCreated, w.Code)

	// Subscriber belongs to the page owner, with the page's tag.
	require.NotNil(t, subs.lastCreated)
	assert.Equal(t, "owner_1", subs.lastCreated.UserID)
	assert.Equal(t, []string{"newsletter"}, subs.lastCreated.Tags)

	// Enrolled into the assigned sequence, conversion counted.
	assert.Equal(t, []string{"seq_welcome"}, subs.enrolled)
	assert.Equal(t, []string{"page_1"}, pages.convertedPages)

	var resp PageSubscribeResponse
	decodeData(t, w, &resp)
	assert.Equal(t, "Check your inbox!", resp.SuccessMessage)
}

func TestLandingPageSubscribe_DuplicateIsSuccess(t *testing.T) {
	pages := &mockLandingPageStore{}
	subs := &mockPageSubscriberStore{
		createFn: func(ctx context.Context, s *types.Subscriber) error {
			return types.NewAppError(types.ErrCodeConflictEmail, "subscriber email already exists", nil)
		},
	}
	_, public := newLandingRouters(pages, subs)

	w := httptest.NewRecorder()
	public.ServeHTTP(w, jsonRequest(t, http.MethodPost, "/p/newsletter/subscribe", PageSubscribeRequest{
		Email: "visitor@example.com",
	}))

	// Idempotent for the visitor; no second enrollment or conversion.
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, subs.enrolled)
	assert.Empty(t, pages.convertedPages)
}

func TestLandingPageSubscribe_InvalidEmail(t *testing.T) {
	_, public := newLandingRouters(&mockLandingPageStore{}, &mockPageSubscriberStore{})

	w := httptest.NewRecorder()
	public.ServeHTTP(w, jsonRequest(t, http.MethodPost, "/p/newsletter/subscribe", PageSubscribeRequest{
		Email: "nope",
	}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

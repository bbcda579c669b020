package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Mutter0815/DripMailer/internal/apperr"
	"github.com/Mutter0815/DripMailer/internal/bulk"
	"github.com/Mutter0815/DripMailer/internal/engine"
	"github.com/Mutter0815/DripMailer/internal/model"
	"github.com/Mutter0815/DripMailer/internal/store"
)

type fakeEngine struct {
	created     *model.Campaign
	startedWith []model.Recipient
	controlErr  error
	getErr      error
	lastFilter  store.ExecutionFilter
}

func (f *fakeEngine) CreateCampaign(ctx context.Context, ownerID, name, description string, steps []model.Step) (*model.Campaign, error) {
	f.created = &model.Campaign{
		ID: "c1", OwnerID: ownerID, Name: name, Description: description,
		Steps: steps, Status: model.CampaignDraft,
	}
	return f.created, nil
}

func (f *fakeEngine) GetCampaign(ctx context.Context, id, ownerID string) (*model.Campaign, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &model.Campaign{ID: id, OwnerID: ownerID, Status: model.CampaignDraft}, nil
}

func (f *fakeEngine) ListCampaigns(ctx context.Context, ownerID string, limit, offset int) ([]model.Campaign, error) {
	return []model.Campaign{{ID: "c1", OwnerID: ownerID}}, nil
}

func (f *fakeEngine) UpdateCampaign(ctx context.Context, c *model.Campaign) (*model.Campaign, error) {
	if f.controlErr != nil {
		return nil, f.controlErr
	}
	return c, nil
}

func (f *fakeEngine) DeleteCampaign(ctx context.Context, id, ownerID string) error {
	return f.controlErr
}

func (f *fakeEngine) StartCampaign(ctx context.Context, id, ownerID string, recipients []model.Recipient) (*model.Campaign, error) {
	if f.controlErr != nil {
		return nil, f.controlErr
	}
	f.startedWith = recipients
	return &model.Campaign{ID: id, OwnerID: ownerID, Status: model.CampaignRunning}, nil
}

func (f *fakeEngine) PauseCampaign(ctx context.Context, id, ownerID string) (*model.Campaign, error) {
	if f.controlErr != nil {
		return nil, f.controlErr
	}
	return &model.Campaign{ID: id, Status: model.CampaignPaused}, nil
}

func (f *fakeEngine) ResumeCampaign(ctx context.Context, id, ownerID string) (*model.Campaign, error) {
	if f.controlErr != nil {
		return nil, f.controlErr
	}
	return &model.Campaign{ID: id, Status: model.CampaignRunning}, nil
}

func (f *fakeEngine) CancelCampaign(ctx context.Context, id, ownerID string) (*model.Campaign, error) {
	if f.controlErr != nil {
		return nil, f.controlErr
	}
	return &model.Campaign{ID: id, Status: model.CampaignCancelled}, nil
}

func (f *fakeEngine) ListExecutions(ctx context.Context, fl store.ExecutionFilter) (*engine.ExecutionPage, error) {
	f.lastFilter = fl
	return &engine.ExecutionPage{Page: 1, PerPage: 20}, nil
}

func (f *fakeEngine) GetExecution(ctx context.Context, id, ownerID string) (*model.Execution, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &model.Execution{ID: id, Status: model.ExecutionSent}, nil
}

type fakeBulk struct {
	started   *bulk.BulkRequest
	scheduled *model.ScheduledJob
	err       error
}

func (f *fakeBulk) StartBulkJob(ctx context.Context, req bulk.BulkRequest) (*model.BulkJob, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.started = &req
	return &model.BulkJob{ID: "j1", OwnerID: req.OwnerID, Total: len(req.Recipients)}, nil
}

func (f *fakeBulk) GetBulkJob(ctx context.Context, id, ownerID string) (*model.BulkJob, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.BulkJob{ID: id, OwnerID: ownerID}, nil
}

func (f *fakeBulk) ScheduleBulkJob(ctx context.Context, req bulk.BulkRequest, sendAt time.Time) (*model.ScheduledJob, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.scheduled = &model.ScheduledJob{
		ID: "s1", OwnerID: req.OwnerID, ScheduleAt: sendAt,
		Status: model.JobScheduled, Total: len(req.Recipients),
	}
	return f.scheduled, nil
}

func (f *fakeBulk) Reschedule(ctx context.Context, id, ownerID string, sendAt time.Time) (*model.ScheduledJob, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.ScheduledJob{ID: id, ScheduleAt: sendAt, Status: model.JobScheduled}, nil
}

func (f *fakeBulk) CancelScheduled(ctx context.Context, id, ownerID string) error {
	return f.err
}

func (f *fakeBulk) ListScheduledJobs(ctx context.Context, ownerID string) ([]model.ScheduledJob, error) {
	return nil, f.err
}

func serve(h *Handlers, method, path, body string) *httptest.ResponseRecorder {
	srv := NewHTTPServer(":0", h)
	rr := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("X-Owner-ID", "owner-1")
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func TestCreateCampaign_OK(t *testing.T) {
	fe := &fakeEngine{}
	h := NewHandlers(fe, &fakeBulk{})

	rr := serve(h, http.MethodPost, "/api/campaigns", `{
		"name":"welcome drip",
		"steps":[
			{"subject":"hi","sender_email":"ops@acme.io","body":"<p>hi</p>"},
			{"delay_minutes":1440,"subject":"ping","sender_email":"ops@acme.io","body":"<p>ping</p>"}
		]
	}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d, body=%s", rr.Code, rr.Body.String())
	}
	if fe.created == nil || fe.created.OwnerID != "owner-1" {
		t.Fatalf("campaign not created for header owner: %+v", fe.created)
	}
	if got := fe.created.Steps[1].Delay; got != 24*time.Hour {
		t.Fatalf("delay_minutes not converted: %v", got)
	}
}

func TestCreateCampaign_MissingSteps(t *testing.T) {
	h := NewHandlers(&fakeEngine{}, &fakeBulk{})
	rr := serve(h, http.MethodPost, "/api/campaigns", `{"name":"x","steps":[]}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestStartCampaign_BindsRecipients(t *testing.T) {
	fe := &fakeEngine{}
	h := NewHandlers(fe, &fakeBulk{})

	rr := serve(h, http.MethodPost, "/api/campaigns/c1/start", `{
		"recipients":[
			{"email":"a@x.io","fields":{"first_name":"Ada"}},
			{"email":"b@x.io"}
		]
	}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, body=%s", rr.Code, rr.Body.String())
	}
	if len(fe.startedWith) != 2 || fe.startedWith[0].Fields["first_name"] != "Ada" {
		t.Fatalf("recipients not passed through: %+v", fe.startedWith)
	}
}

func TestControlErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{apperr.InvalidState("pause", "draft"), http.StatusConflict},
		{apperr.NotFound("campaign", "c1"), http.StatusNotFound},
		{apperr.Validation("bad input"), http.StatusBadRequest},
		{errTest("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := NewHandlers(&fakeEngine{controlErr: tc.err}, &fakeBulk{})
		rr := serve(h, http.MethodPost, "/api/campaigns/c1/pause", "")
		if rr.Code != tc.code {
			t.Fatalf("err %v: status=%d, want %d", tc.err, rr.Code, tc.code)
		}
	}
}

func TestListExecutions_FilterParsing(t *testing.T) {
	fe := &fakeEngine{}
	h := NewHandlers(fe, &fakeBulk{})

	rr := serve(h, http.MethodGet,
		"/api/executions?campaign=c1&status=sent&step_index=2&page=3&per_page=10&order=desc", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, body=%s", rr.Code, rr.Body.String())
	}
	f := fe.lastFilter
	if f.OwnerID != "owner-1" || f.CampaignID != "c1" || f.Status != model.ExecutionSent {
		t.Fatalf("filter = %+v", f)
	}
	if f.StepIndex == nil || *f.StepIndex != 2 {
		t.Fatalf("step_index not parsed: %+v", f.StepIndex)
	}
	if f.Page != 3 || f.PerPage != 10 || f.Order != "desc" {
		t.Fatalf("paging = %+v", f)
	}
}

func TestStartBulkJob_OK(t *testing.T) {
	fb := &fakeBulk{}
	h := NewHandlers(&fakeEngine{}, fb)

	rr := serve(h, http.MethodPost, "/api/jobs", `{
		"subject":"sale",
		"sender_email":"ops@acme.io",
		"html_body":"<p>deal</p>",
		"account_ids":["s1"],
		"recipients":[{"email":"a@x.io"}]
	}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d, body=%s", rr.Code, rr.Body.String())
	}
	if fb.started == nil || fb.started.OwnerID != "owner-1" {
		t.Fatalf("request not forwarded: %+v", fb.started)
	}
	if fb.started.Content.Subject != "sale" || len(fb.started.AccountIDs) != 1 {
		t.Fatalf("content lost in translation: %+v", fb.started)
	}
}

func TestScheduleBulkJob_RequiresScheduleAt(t *testing.T) {
	h := NewHandlers(&fakeEngine{}, &fakeBulk{})
	rr := serve(h, http.MethodPost, "/api/schedule", `{
		"subject":"sale",
		"sender_email":"ops@acme.io",
		"html_body":"<p>deal</p>",
		"recipients":[{"email":"a@x.io"}]
	}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without schedule_at, got %d", rr.Code)
	}
}

func TestScheduleBulkJob_OK(t *testing.T) {
	fb := &fakeBulk{}
	h := NewHandlers(&fakeEngine{}, fb)

	rr := serve(h, http.MethodPost, "/api/schedule", `{
		"subject":"sale",
		"sender_email":"ops@acme.io",
		"html_body":"<p>deal</p>",
		"recipients":[{"email":"a@x.io"}],
		"schedule_at":"2030-01-02T15:04:05Z"
	}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d, body=%s", rr.Code, rr.Body.String())
	}
	var job model.ScheduledJob
	if err := json.Unmarshal(rr.Body.Bytes(), &job); err != nil {
		t.Fatal(err)
	}
	want := time.Date(2030, 1, 2, 15, 4, 5, 0, time.UTC)
	if !job.ScheduleAt.Equal(want) {
		t.Fatalf("schedule_at = %v, want %v", job.ScheduleAt, want)
	}
}

func TestRescheduleConflict(t *testing.T) {
	h := NewHandlers(&fakeEngine{}, &fakeBulk{err: apperr.InvalidState("reschedule", "completed")})
	rr := serve(h, http.MethodPut, "/api/schedule/s1", `{"schedule_at":"2030-01-02T15:04:05Z"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestStartBulkJob_AlreadyRunning(t *testing.T) {
	h := NewHandlers(&fakeEngine{}, &fakeBulk{err: apperr.AlreadyRunning("j1")})
	rr := serve(h, http.MethodPost, "/api/jobs", `{
		"subject":"sale","sender_email":"ops@acme.io","html_body":"x",
		"recipients":[{"email":"a@x.io"}]
	}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestHealthz(t *testing.T) {
	h := NewHandlers(&fakeEngine{}, &fakeBulk{})
	rr := serve(h, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }

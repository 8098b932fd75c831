package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"limscore/internal/audit"
	labmodels "limscore/internal/lab/models"
	labstore "limscore/internal/lab/store"
	"limscore/internal/review/service"
	"limscore/pkg/domain"
	"limscore/pkg/platform/tx"
	"limscore/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	ctx        context.Context
	lab        *labstore.InMemory
	router     chi.Router
	technician domain.Actor
	reviewer   domain.Actor
}

func (s *HandlerSuite) SetupTest() {
	s.ctx = context.Background()
	s.lab = labstore.NewInMemory()
	s.technician = domain.Actor{ID: domain.ActorID(uuid.New()), Name: "Lan Pham", Role: domain.RoleTechnician}
	s.reviewer = domain.Actor{ID: domain.ActorID(uuid.New()), Name: "Quang Vu", Role: domain.RoleReviewer}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewService(s.lab, audit.NewPublisher(audit.NewInMemoryStore()), tx.NewMemoryRunner(), nil, decimal.RequireFromString("0.10"))
	s.router = chi.NewRouter()
	New(svc, logger).Register(s.router)
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

// seedTesting persists a receipt/sample/analysis chain with the analysis
// assigned to s.technician and in testing.
func (s *HandlerSuite) seedTesting() *labmodels.Analysis {
	now := time.Now()
	receipt := &labmodels.Receipt{
		ID:         domain.ReceiptID(uuid.New()),
		Code:       "REC-001",
		ReceivedAt: now,
		Deadline:   now.Add(48 * time.Hour),
		Priority:   labmodels.PriorityNormal,
		Status:     labmodels.ReceiptStatusProcessing,
	}
	s.Require().NoError(s.lab.CreateReceipt(s.ctx, receipt))
	sample := &labmodels.Sample{
		ID:        domain.SampleID(uuid.New()),
		ReceiptID: receipt.ID,
		Code:      domain.NewSampleCode(receipt.Code, 1),
		Status:    labmodels.SampleStatusAnalyzing,
	}
	s.Require().NoError(s.lab.CreateSample(s.ctx, sample))

	max := decimal.RequireFromString("8.5")
	min := decimal.RequireFromString("6.5")
	a := &labmodels.Analysis{
		ID:           domain.AnalysisID(uuid.New()),
		SampleID:     sample.ID,
		Parameter:    "pH",
		ProtocolCode: "TCVN 6492",
		ThresholdMin: &min,
		ThresholdMax: &max,
		Status:       labmodels.AnalysisStatusPending,
	}
	s.Require().NoError(a.Assign(s.technician, "Lab 1"))
	s.Require().NoError(s.lab.CreateAnalysis(s.ctx, a))
	return a
}

func (s *HandlerSuite) TestSubmitResult() {
	a := s.seedTesting()

	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/analyses/"+a.ID.String()+"/result", map[string]any{
		"value":   "7.2",
		"version": a.Version,
	})
	rr := testutil.DoRequest(s.router, testutil.WithActor(req, s.technician))

	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	body := testutil.UnmarshalResponse[map[string]any](s.T(), rr)
	s.Equal("review", (*body)["status"])
	s.Equal("pass", (*body)["assessment"])
	s.Equal("7.2", (*body)["result_value"])
}

func (s *HandlerSuite) TestApproveRequiresReviewer() {
	a := s.seedTesting()
	s.submit(a, "7.2")

	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/analyses/"+a.ID.String()+"/approve", map[string]any{})
	rr := testutil.DoRequest(s.router, testutil.WithActor(req, s.technician))
	testutil.AssertError(s.T(), rr, http.StatusForbidden, "unauthorized")

	req = testutil.NewJSONRequest(s.T(), http.MethodPost, "/analyses/"+a.ID.String()+"/approve", map[string]any{})
	rr = testutil.DoRequest(s.router, testutil.WithActor(req, s.reviewer))
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	body := testutil.UnmarshalResponse[map[string]any](s.T(), rr)
	s.Equal("approved", (*body)["status"])
}

func (s *HandlerSuite) TestRejectWithoutReason() {
	a := s.seedTesting()
	s.submit(a, "9.9")

	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/analyses/"+a.ID.String()+"/reject", map[string]any{})
	rr := testutil.DoRequest(s.router, testutil.WithActor(req, s.reviewer))
	testutil.AssertError(s.T(), rr, http.StatusUnprocessableEntity, "validation_error")
}

func (s *HandlerSuite) TestStaleVersionConflicts() {
	a := s.seedTesting()
	s.submit(a, "7.2")

	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/analyses/"+a.ID.String()+"/approve", map[string]any{
		"version": 99,
	})
	rr := testutil.DoRequest(s.router, testutil.WithActor(req, s.reviewer))
	testutil.AssertError(s.T(), rr, http.StatusConflict, "stale_state")
}

func (s *HandlerSuite) TestUnknownAnalysis() {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/analyses/"+uuid.NewString()+"/result", map[string]any{
		"value": "1.0",
	})
	rr := testutil.DoRequest(s.router, testutil.WithActor(req, s.technician))
	testutil.AssertError(s.T(), rr, http.StatusNotFound, "not_found")
}

func (s *HandlerSuite) submit(a *labmodels.Analysis, value string) {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/analyses/"+a.ID.String()+"/result", map[string]any{
		"value": value,
	})
	rr := testutil.DoRequest(s.router, testutil.WithActor(req, s.technician))
	s.Require().Equal(http.StatusOK, rr.Code)
}

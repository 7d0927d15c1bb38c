package grpc

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"semaphore/badging/internal/apperr"
	"semaphore/badging/internal/kpi"
	"semaphore/badging/internal/period"
)

type KpiServer struct {
	service *kpi.Service
	loc     *time.Location
}

func NewKpiServer(service *kpi.Service, loc *time.Location) *KpiServer {
	if loc == nil {
		loc = time.UTC
	}
	return &KpiServer{service: service, loc: loc}
}

// KpiForRange aggregates over [start, end). Both bounds accept RFC 3339 or
// a plain date in the server's time zone.
func (s *KpiServer) KpiForRange(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	start, err := s.parseTime(stringField(req, "start"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid start")
	}
	end, err := s.parseTime(stringField(req, "end"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid end")
	}
	if !end.After(start) {
		return nil, status.Error(codes.InvalidArgument, "end must be after start")
	}
	rng := period.Range{Start: start, End: end}
	kind := period.Custom
	if rng.Days() == 1 && start.Equal(midnight(start)) {
		kind = period.Day
	}
	summary, err := s.service.ComputeRange(ctx, kind, rng, filterFrom(req))
	if err != nil {
		return nil, statusFromError(err)
	}
	return EncodeSummary(summary)
}

func (s *KpiServer) KpiForWeek(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sel := period.Selector{Kind: period.Week, Week: intField(req, "week"), Year: intField(req, "year")}
	return s.compute(ctx, sel, req)
}

func (s *KpiServer) KpiForMonth(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sel := period.Selector{Kind: period.Month, Month: intField(req, "month"), Year: intField(req, "year")}
	return s.compute(ctx, sel, req)
}

func (s *KpiServer) compute(ctx context.Context, sel period.Selector, req *structpb.Struct) (*structpb.Struct, error) {
	summary, err := s.service.Compute(ctx, sel, filterFrom(req))
	if err != nil {
		return nil, statusFromError(err)
	}
	return EncodeSummary(summary)
}

func (s *KpiServer) parseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.In(s.loc), nil
	}
	return time.ParseInLocation(time.DateOnly, value, s.loc)
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func filterFrom(req *structpb.Struct) kpi.Filter {
	return kpi.Filter{
		Service: stringField(req, "service"),
		Role:    stringField(req, "role"),
		Search:  stringField(req, "search"),
	}
}

func stringField(req *structpb.Struct, name string) string {
	if v, ok := req.GetFields()[name]; ok {
		return v.GetStringValue()
	}
	return ""
}

func intField(req *structpb.Struct, name string) int {
	if v, ok := req.GetFields()[name]; ok {
		return int(v.GetNumberValue())
	}
	return 0
}

// EncodeSummary carries a summary as a Struct with the JSON field names.
func EncodeSummary(summary kpi.Summary) (*structpb.Struct, error) {
	data, err := json.Marshal(summary)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode failed")
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, status.Error(codes.Internal, "encode failed")
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode failed")
	}
	return out, nil
}

func DecodeSummary(in *structpb.Struct) (kpi.Summary, error) {
	var summary kpi.Summary
	data, err := json.Marshal(in.AsMap())
	if err != nil {
		return summary, err
	}
	err = json.Unmarshal(data, &summary)
	return summary, err
}

func statusFromError(err error) error {
	code := apperr.CodeOf(err)
	switch apperr.KindOf(err) {
	case apperr.Validation:
		return status.Error(codes.InvalidArgument, code)
	case apperr.Forbidden:
		return status.Error(codes.PermissionDenied, code)
	case apperr.NotFound:
		return status.Error(codes.NotFound, code)
	case apperr.Conflict:
		return status.Error(codes.AlreadyExists, code)
	case apperr.Integrity:
		return status.Error(codes.FailedPrecondition, code)
	default:
		return status.Error(codes.Unavailable, code)
	}
}

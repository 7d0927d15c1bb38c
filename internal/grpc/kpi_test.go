package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"semaphore/badging/internal/kpi"
	"semaphore/badging/internal/model"
	"semaphore/badging/internal/period"
	"semaphore/badging/internal/session"
)

type fakeKpiStore struct {
	events []model.BadgeEvent
}

func (f fakeKpiStore) ListUsers(context.Context) ([]model.User, error) {
	return []model.User{
		{ID: "u1", FirstName: "Ana", Service: "IT", Status: model.StatusOut},
		{ID: "u2", FirstName: "Bo", Service: "RH", Status: model.StatusOut},
	}, nil
}

func (f fakeKpiStore) ListBadgeEvents(_ context.Context, _ string, from, to time.Time) ([]model.BadgeEvent, error) {
	var out []model.BadgeEvent
	for _, ev := range f.events {
		if !ev.At.Before(from) && ev.At.Before(to) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f fakeKpiStore) ListApprovedModifications(context.Context, string, time.Time, time.Time) ([]model.ModificationRequest, error) {
	return nil, nil
}

func (f fakeKpiStore) ScheduleTable(context.Context) (session.Table, error) {
	return session.Table{"Kiosk A": 9 * time.Hour}, nil
}

func startKpiServer(t *testing.T) *KpiServiceClient {
	t.Helper()
	site := "Kiosk A"
	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	store := fakeKpiStore{events: []model.BadgeEvent{
		{ID: "e1", UserID: "u1", Action: model.ActionEntree, At: day.Add(9*time.Hour + 10*time.Minute), Lieux: &site},
		{ID: "e2", UserID: "u1", Action: model.ActionSortie, At: day.Add(17 * time.Hour), Lieux: &site},
		{ID: "e3", UserID: "u2", Action: model.ActionEntree, At: day.Add(9 * time.Hour), Lieux: &site},
		{ID: "e4", UserID: "u2", Action: model.ActionSortie, At: day.Add(16 * time.Hour), Lieux: &site},
	}}
	service := kpi.NewService(store, time.UTC, kpi.NewCalendar())
	service.SetClock(func() time.Time { return day.Add(18 * time.Hour) })

	interceptor, err := NewServiceAuthUnaryInterceptor("service-token")
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer(grpc.UnaryInterceptor(interceptor))
	RegisterKpiServiceServer(server, NewKpiServer(service, time.UTC))
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return listener.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewKpiServiceClient(conn)
}

func mustStruct(t *testing.T, fields map[string]interface{}) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("struct: %v", err)
	}
	return s
}

func TestKpiForRangeRequiresServiceToken(t *testing.T) {
	client := startKpiServer(t)
	_, err := client.KpiForRange(context.Background(), mustStruct(t, map[string]interface{}{"start": "2026-03-04", "end": "2026-03-05"}))
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	ctx := WithServiceToken(context.Background(), "wrong")
	_, err = client.KpiForRange(ctx, mustStruct(t, map[string]interface{}{"start": "2026-03-04", "end": "2026-03-05"}))
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestKpiForRangeMatchesLocalAggregation(t *testing.T) {
	client := startKpiServer(t)
	ctx := WithServiceToken(context.Background(), "service-token")
	out, err := client.KpiForRange(ctx, mustStruct(t, map[string]interface{}{"start": "2026-03-04", "end": "2026-03-05"}))
	if err != nil {
		t.Fatalf("kpi for range: %v", err)
	}
	summary, err := DecodeSummary(out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.Period != period.Day || summary.Sessions != 2 || summary.CumulativeLateness != 10 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.PunctualityRate == nil || *summary.PunctualityRate != 50 {
		t.Fatalf("expected punctuality 50, got %v", summary.PunctualityRate)
	}
	if summary.Performance != nil {
		t.Fatalf("performance needs contract hours")
	}

	filtered, err := client.KpiForRange(ctx, mustStruct(t, map[string]interface{}{"start": "2026-03-04", "end": "2026-03-05", "service": "RH"}))
	if err != nil {
		t.Fatalf("filtered: %v", err)
	}
	summary, err = DecodeSummary(filtered)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.Users != 1 || summary.CumulativeLateness != 0 {
		t.Fatalf("filter not applied: %+v", summary)
	}
}

func TestKpiForWeekAndMonth(t *testing.T) {
	client := startKpiServer(t)
	ctx := WithServiceToken(context.Background(), "service-token")

	out, err := client.KpiForWeek(ctx, mustStruct(t, map[string]interface{}{"week": 10, "year": 2026}))
	if err != nil {
		t.Fatalf("week: %v", err)
	}
	summary, err := DecodeSummary(out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.Sessions != 2 || summary.Presence != nil {
		t.Fatalf("unexpected week summary %+v", summary)
	}

	_, err = client.KpiForMonth(ctx, mustStruct(t, map[string]interface{}{"month": 13}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestKpiForRangeRejectsBadBounds(t *testing.T) {
	client := startKpiServer(t)
	ctx := WithServiceToken(context.Background(), "service-token")
	_, err := client.KpiForRange(ctx, mustStruct(t, map[string]interface{}{"start": "2026-03-05", "end": "2026-03-04"}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

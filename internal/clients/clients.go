package clients

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	badginggrpc "semaphore/badging/internal/grpc"
)

type Clients struct {
	KpiConn *grpc.ClientConn
	Kpi     *badginggrpc.KpiServiceClient
}

func New(ctx context.Context, kpiAddr string, timeout time.Duration) (*Clients, error) {
	kpiConn, err := dial(ctx, kpiAddr, timeout)
	if err != nil {
		return nil, err
	}
	return &Clients{
		KpiConn: kpiConn,
		Kpi:     badginggrpc.NewKpiServiceClient(kpiConn),
	}, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.KpiConn != nil {
		_ = c.KpiConn.Close()
	}
}

func dial(ctx context.Context, addr string, timeout time.Duration) (*grpc.ClientConn, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return grpc.DialContext(ctx, addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

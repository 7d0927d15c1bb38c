package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"google.golang.org/protobuf/types/known/structpb"

	"semaphore/badging/internal/apperr"
	"semaphore/badging/internal/auth"
	"semaphore/badging/internal/badge"
	"semaphore/badging/internal/clients"
	"semaphore/badging/internal/config"
	"semaphore/badging/internal/db"
	badginggrpc "semaphore/badging/internal/grpc"
	"semaphore/badging/internal/model"
	"semaphore/badging/internal/nfc"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending database migrations",
		Action: func(ctx context.Context, _ *cli.Command) error {
			cfg := config.Load()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.Timezone)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := db.Migrate(ctx, pool); err != nil {
				return err
			}
			log.Printf("migrations applied")
			return nil
		},
	}
}

// kioskCommand runs a fixed badge terminal: every tag read from the reader
// goes through the scan pipeline as if presented from the kiosk's address.
func kioskCommand() *cli.Command {
	return &cli.Command{
		Name:  "kiosk",
		Usage: "Read NFC tags line by line from stdin and record scans",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "address", Required: true, Usage: "network address of the kiosk, matched against known sites"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := openApp(ctx, config.Load())
			if err != nil {
				return err
			}
			defer a.close()
			return runKiosk(ctx, a.badges, nfc.NewScanner(nfc.NewLineReader(os.Stdin)), c.String("address"), os.Stdout)
		},
	}
}

type scanner interface {
	Scan(ctx context.Context, req badge.ScanRequest) (model.BadgeEvent, error)
}

func runKiosk(ctx context.Context, badges scanner, reader *nfc.Scanner, address string, out io.Writer) error {
	for {
		task, err := reader.Start(ctx)
		if err != nil {
			return err
		}
		tag, err := task.Wait(ctx)
		switch {
		case ctx.Err() != nil, errors.Is(err, nfc.ErrCanceled), errors.Is(err, io.EOF):
			task.Cancel()
			return nil
		case err != nil:
			return err
		}

		event, err := badges.Scan(ctx, badge.ScanRequest{Code: tag, Address: address, Source: "kiosk"})
		if err != nil {
			fmt.Fprintf(out, "%s\trefused\t%s\n", tag, apperr.CodeOf(err))
			continue
		}
		fmt.Fprintf(out, "%s\t%s\t%s\n", tag, event.Action, event.At.Format(time.RFC3339))
	}
}

func kpiCommand() *cli.Command {
	return &cli.Command{
		Name:  "kpi",
		Usage: "Fetch a KPI bundle from a running server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "start", Usage: "range start, RFC 3339 or YYYY-MM-DD"},
			&cli.StringFlag{Name: "end", Usage: "range end, exclusive"},
			&cli.IntFlag{Name: "week", Usage: "ISO week number"},
			&cli.IntFlag{Name: "month", Usage: "month number"},
			&cli.IntFlag{Name: "year", Usage: "year for week or month"},
			&cli.StringFlag{Name: "service", Usage: "only users of this service"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := config.Load()
			conns, err := clients.New(ctx, cfg.KpiGRPCAddr, cfg.GRPCDialTimeout)
			if err != nil {
				return err
			}
			defer conns.Close()

			req, err := structpb.NewStruct(map[string]interface{}{
				"start":   c.String("start"),
				"end":     c.String("end"),
				"week":    float64(c.Int("week")),
				"month":   float64(c.Int("month")),
				"year":    float64(c.Int("year")),
				"service": c.String("service"),
			})
			if err != nil {
				return err
			}
			callCtx := badginggrpc.WithServiceToken(ctx, cfg.ServiceAuthToken)

			var resp *structpb.Struct
			switch {
			case c.String("start") != "" || c.String("end") != "":
				resp, err = conns.Kpi.KpiForRange(callCtx, req)
			case c.Int("month") != 0:
				resp, err = conns.Kpi.KpiForMonth(callCtx, req)
			default:
				resp, err = conns.Kpi.KpiForWeek(callCtx, req)
			}
			if err != nil {
				return err
			}
			summary, err := badginggrpc.DecodeSummary(resp)
			if err != nil {
				return err
			}
			return printJSON(summary)
		},
	}
}

func userCommand() *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "Manage users",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a user",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "first-name", Required: true},
					&cli.StringFlag{Name: "last-name", Required: true},
					&cli.StringFlag{Name: "email", Required: true},
					&cli.StringFlag{Name: "role", Usage: "Admin, Manager, A-E or empty"},
					&cli.StringFlag{Name: "service"},
					&cli.StringFlag{Name: "badge", Usage: "NFC tag serial"},
					&cli.FloatFlag{Name: "contract-hours", Usage: "weekly contract hours"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg := config.Load()
					pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.Timezone)
					if err != nil {
						return err
					}
					defer pool.Close()

					params := db.CreateUserParams{
						FirstName: c.String("first-name"),
						LastName:  c.String("last-name"),
						Email:     c.String("email"),
						Role:      model.ParseRole(c.String("role")),
						Service:   c.String("service"),
						BadgeCode: c.String("badge"),
					}
					if c.IsSet("contract-hours") {
						hours := c.Float("contract-hours")
						params.ContractHours = &hours
					}
					user, err := db.New(pool).CreateUser(ctx, params)
					if err != nil {
						return err
					}
					return printJSON(user)
				},
			},
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue an access token for a user",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Required: true, Usage: "user id"},
			&cli.StringFlag{Name: "role", Usage: "Admin, Manager, A-E or empty"},
			&cli.StringFlag{Name: "service"},
			&cli.DurationFlag{Name: "ttl", Value: 12 * time.Hour},
		},
		Action: func(_ context.Context, c *cli.Command) error {
			cfg := config.Load()
			token, err := auth.NewAccessToken(cfg.JWTSecret, cfg.JWTIssuer, c.Duration("ttl"), auth.Claims{
				UserID:  c.String("user"),
				Role:    model.ParseRole(c.String("role")),
				Service: c.String("service"),
			})
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

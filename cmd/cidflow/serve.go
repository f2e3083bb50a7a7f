package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/drblury/cidflow/internal/authsvc"
	runtimepkg "github.com/drblury/cidflow/internal/runtime"
	"github.com/drblury/cidflow/internal/runtime/auth"
	configpkg "github.com/drblury/cidflow/internal/runtime/config"
	"github.com/drblury/cidflow/internal/runtime/crud"
	loggingpkg "github.com/drblury/cidflow/internal/runtime/logging"
	"github.com/drblury/cidflow/internal/runtime/metadata"
	"github.com/drblury/cidflow/internal/runtime/rpc"
	"github.com/drblury/cidflow/internal/runtime/store/memory"
	"github.com/drblury/cidflow/internal/runtime/store/sqlstore"
)

const notesService = "note_service"

// note is the resource served by the demo host.
type note struct {
	ID    string `db:"id" json:"id"`
	Title string `db:"title" json:"title" validate:"required,max=200"`
	Body  string `db:"body" json:"body"`
}

var databaseURL string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host the auth service and the notes CRUD service",
	Long: `Hosts the reference validate_token service (when token_secret is set) and
a notes CRUD service guarded by it. Notes are kept in memory, or in the
PostgreSQL table "notes" when --database-url is given. Change events of the
notes service are logged with their correlation id.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		conf, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		svc := runtimepkg.NewService(conf, logger, ctx, runtimepkg.ServiceDependencies{
			Middlewares: []runtimepkg.MiddlewareRegistration{runtimepkg.ObservabilityHooksMiddleware()},
		})
		defer svc.Close()

		if conf.TokenSecret != "" {
			if err := hostAuthService(svc, conf, logger); err != nil {
				return err
			}
		}

		coll, closeDB, err := openNotes(databaseURL)
		if err != nil {
			return err
		}
		defer closeDB()
		if err := hostNotes(svc, conf, coll, logger); err != nil {
			return err
		}

		if err := svc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL URL of the notes table (in-memory when empty)")
}

func hostAuthService(svc *runtimepkg.Service, conf *configpkg.Config, logger loggingpkg.ServiceLogger) error {
	tokens, err := authsvc.New(conf.TokenSecret, logger)
	if err != nil {
		return err
	}
	srv, err := rpc.NewServer(conf.AuthServiceName, svc.Publisher(), logger)
	if err != nil {
		return err
	}
	if err := tokens.Register(srv, conf.ValidateTokenMethod); err != nil {
		return err
	}
	return runtimepkg.RegisterRPCServer(svc, srv)
}

func openNotes(url string) (crud.Collection[note], func(), error) {
	ser, err := crud.NewStructSerializer[note]()
	if err != nil {
		return nil, nil, err
	}
	if url == "" {
		return memory.New[note](ser), func() {}, nil
	}
	db, err := sqlx.Connect("postgres", url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect notes database: %w", err)
	}
	store, err := sqlstore.New[note](db, sqlstore.Table{
		Name:    "notes",
		Key:     "id",
		Columns: []string{"title", "body"},
	})
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, func() { _ = db.Close() }, nil
}

func hostNotes(svc *runtimepkg.Service, conf *configpkg.Config, coll crud.Collection[note], logger loggingpkg.ServiceLogger) error {
	client, err := svc.RPCClient()
	if err != nil {
		return err
	}
	dispatcher, err := svc.Dispatcher()
	if err != nil {
		return err
	}
	gate, err := auth.NewGate(auth.NewRemoteValidator(client, conf.AuthServiceName, conf.ValidateTokenMethod), conf, logger)
	if err != nil {
		return err
	}
	ser, err := crud.NewStructSerializer[note]()
	if err != nil {
		return err
	}
	adapter, err := crud.NewAdapter[note](coll, ser, gate, crud.Options{
		View:         "notes",
		SearchFields: []string{"^title", "body"},
		Pagination:   conf.Pagination,
		Events:       dispatcher,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	if _, err := runtimepkg.RegisterCRUD(svc, runtimepkg.CRUDRegistration[note]{Service: notesService, Adapter: adapter}); err != nil {
		return err
	}

	for _, event := range []string{"notes_created", "notes_updated", "notes_deleted"} {
		err := runtimepkg.RegisterEventHandler(svc, runtimepkg.EventHandlerRegistration{
			Source: conf.ServiceName,
			Event:  event,
			Handler: func(ctx context.Context, payload map[string]any, md metadata.Metadata) error {
				loggingpkg.WithCorrelation(ctx, logger).Info("Note changed", loggingpkg.LogFields{
					"event": md[metadata.KeyEventName],
					"id":    payload["id"],
				})
				return nil
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

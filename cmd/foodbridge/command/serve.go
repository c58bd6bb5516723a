package command

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	firebase "firebase.google.com/go/v4"
	"github.com/spf13/cobra"

	"foodbridge/internal/config"
	httptransport "foodbridge/internal/http"
	"foodbridge/internal/infra"
	"foodbridge/internal/log"
	"foodbridge/internal/modules/donation"
	"foodbridge/internal/modules/driver"
	"foodbridge/internal/modules/events"
	"foodbridge/internal/modules/location"
	"foodbridge/internal/modules/matching"
	"foodbridge/internal/modules/memstore"
	"foodbridge/internal/modules/notify"
	"foodbridge/internal/modules/proof"
)

var memorySeed seedOptions

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API until SIGINT or SIGTERM.
With store=memory the process keeps everything in memory and can seed
its own drivers with --drivers, which is handy for local testing.`,
	Args: cobra.NoArgs,
	RunE: serve,
}

func serve(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var app *firebase.App
	if cfg.Auth.Mode == config.AuthFirebase || cfg.Firebase.PushEnabled {
		if app, err = infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile); err != nil {
			return err
		}
	}
	verifier, err := newVerifier(ctx, cfg.Auth, app)
	if err != nil {
		return err
	}

	repo, drivers, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	opts, closers, err := serviceOptions(ctx, cfg, app)
	defer func() {
		for _, c := range closers {
			c()
		}
	}()
	if err != nil {
		return err
	}
	svc, err := donation.NewService(repo, drivers, cfg.Matching, opts...)
	if err != nil {
		return err
	}

	proofs, err := newProofStorage(ctx, cfg.Proof)
	if err != nil {
		return err
	}

	router, err := httptransport.NewRouter(httptransport.RouterDeps{
		Donations:   svc,
		Proofs:      proofs,
		Verifier:    verifier,
		CORSOrigins: cfg.HTTP.CORSOrigins,
	})
	if err != nil {
		return err
	}
	return httptransport.Serve(ctx, cfg.HTTP.Addr, router)
}

func newVerifier(ctx context.Context, cfg config.AuthConfig, app *firebase.App) (infra.TokenVerifier, error) {
	if cfg.Mode == config.AuthJWT {
		return infra.NewJWTVerifier(cfg.JWTSecret)
	}
	return infra.NewFirebaseVerifier(ctx, app)
}

// openStore returns the donation repository and driver source for cfg.Store.
func openStore(ctx context.Context, cfg config.Config) (donation.Repository, matching.DriverSource, func(), error) {
	if cfg.Store == config.StoreMemory {
		ms := memstore.New()
		if memorySeed.drivers > 0 {
			if err := seedDrivers(ctx, ms.Drivers(), memorySeed, nil); err != nil {
				return nil, nil, nil, err
			}
			log.Info(ctx, "seeded in-memory drivers", slog.Int("count", memorySeed.drivers))
		}
		return ms, ms.Drivers(), func() {}, nil
	}
	pool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, nil, nil, err
	}
	return donation.NewStore(pool), driver.NewStore(pool), pool.Close, nil
}

// serviceOptions wires the optional collaborators that cfg enables. The
// returned closers must run even when err is non-nil.
func serviceOptions(ctx context.Context, cfg config.Config, app *firebase.App) ([]donation.Option, []func(), error) {
	var (
		opts    []donation.Option
		closers []func()
	)

	if cfg.Redis.Addr != "" {
		client, err := infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return nil, closers, err
		}
		closers = append(closers, func() { _ = client.Close() })
		opts = append(opts, donation.WithRankingCache(matching.NewStore(client, cfg.Matching.RankingTTL)))
	}

	if cfg.Maps.APIKey != "" {
		geo, err := location.NewGoogleGeocoder(cfg.Maps.APIKey, cfg.Maps.Region)
		if err != nil {
			return nil, closers, err
		}
		opts = append(opts, donation.WithGeocoder(geo))
	}

	if cfg.Firebase.PushEnabled {
		n, err := notify.NewFirebaseNotifier(ctx, app)
		if err != nil {
			return nil, closers, err
		}
		opts = append(opts, donation.WithNotifier(n))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		p, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, closers, err
		}
		closers = append(closers, func() {
			if err := p.Close(); err != nil {
				log.Warn(ctx, "kafka producer close failed", log.Err("error", err))
			}
		})
		opts = append(opts, donation.WithPublisher(p))
	}
	return opts, closers, nil
}

func newProofStorage(ctx context.Context, cfg config.ProofConfig) (proof.Storage, error) {
	switch cfg.Backend {
	case config.ProofCloudinary:
		return proof.NewCloudinaryStorage(cfg.CloudinaryURL, cfg.Folder)
	case config.ProofS3:
		return proof.NewS3Storage(ctx, cfg.S3Bucket, cfg.S3Region, cfg.Folder, cfg.S3BaseURL)
	}
	return nil, nil
}

func init() {
	addSeedFlags(serveCmd, &memorySeed, 0)
	rootCmd.AddCommand(serveCmd)
}

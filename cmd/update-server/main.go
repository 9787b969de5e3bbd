// Command update-server serves over-the-air updates to Expo clients.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	updateserver "github.com/wolfeidau/update-server"
	"github.com/wolfeidau/update-server/archive"
	"github.com/wolfeidau/update-server/backend"
	"github.com/wolfeidau/update-server/credentials"
	"github.com/wolfeidau/update-server/credentials/opprovider"
	"github.com/wolfeidau/update-server/server"
	"github.com/wolfeidau/update-server/signing"
	"github.com/wolfeidau/update-server/store/metadb"
	"github.com/wolfeidau/update-server/telemetry"
	"github.com/wolfeidau/update-server/update"
)

var version = "dev"

type globals struct {
	LogLevel  string `help:"Log level." enum:"debug,info,warn,error" default:"info" env:"LOG_LEVEL"`
	LogFormat string `help:"Log format." enum:"text,json" default:"text" env:"LOG_FORMAT"`
}

type storageFlags struct {
	Storage     string `help:"Storage backend for update archives." enum:"file,gcs" default:"file" env:"STORAGE"`
	StoragePath string `help:"Root directory of the file backend." default:"./data" type:"path" env:"STORAGE_PATH"`
	GCSBucket   string `help:"GCS bucket holding update archives." env:"GCS_BUCKET"`
	GCSPrefix   string `help:"Key prefix inside the GCS bucket." env:"GCS_PREFIX"`
	DBPath      string `help:"Release and tracking database file. Default: <storage-path>/metadata.db" type:"path" env:"DB_PATH"`
}

// open returns the configured backend and a cleanup function.
func (f storageFlags) open(ctx context.Context) (backend.Backend, string, func(), error) {
	switch f.Storage {
	case "gcs":
		if f.GCSBucket == "" {
			return nil, "", nil, errors.New("--gcs-bucket is required with --storage=gcs")
		}
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, "", nil, fmt.Errorf("creating gcs client: %w", err)
		}
		return backend.NewGCS(client, f.GCSBucket, f.GCSPrefix), "gcs", func() { _ = client.Close() }, nil
	default:
		fs, err := backend.NewFilesystem(f.StoragePath)
		if err != nil {
			return nil, "", nil, err
		}
		return fs, "filesystem", func() {}, nil
	}
}

func (f storageFlags) dbPath() string {
	if f.DBPath != "" {
		return f.DBPath
	}
	return filepath.Join(f.StoragePath, "metadata.db")
}

type serveCmd struct {
	storageFlags `embed:""`

	Address          string        `help:"Address to listen on." default:":3000" env:"ADDRESS"`
	H2C              bool          `help:"Serve HTTP/2 without TLS." name:"h2c" env:"H2C"`
	Hostname         string        `help:"Public base URL used in asset URLs." required:"" env:"HOST"`
	PrivateKeyBase64 string        `help:"Base64 encoded PEM RSA key used to sign responses." env:"PRIVATE_KEY_BASE_64"`
	PrivateKeyFile   string        `help:"PEM RSA key file used to sign responses." type:"path" env:"PRIVATE_KEY_FILE"`
	ArchiveCacheTTL  time.Duration `help:"How long a decoded archive is served from memory." default:"5m" env:"ARCHIVE_CACHE_TTL"`
	AdminToken       string        `help:"Bearer token protecting the release and tracking reports." env:"ADMIN_TOKEN"`
	CredentialsFile  string        `help:"JSON template resolving the admin token and signing key. Flags take precedence." type:"path" env:"CREDENTIALS_FILE"`
	OPBinary         string        `help:"1Password CLI used by op references in the credentials file." default:"op" name:"op-binary" env:"OP_BINARY"`

	MetricsPrometheus   bool   `help:"Expose Prometheus metrics on /metrics." env:"METRICS_PROMETHEUS"`
	MetricsOTLPEndpoint string `help:"OTLP gRPC endpoint for metrics export (e.g. localhost:4317)." name:"metrics-otlp-endpoint" env:"METRICS_OTLP_ENDPOINT"`
}

func (c *serveCmd) Run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceVersion:   version,
		OTLPEndpoint:     c.MetricsOTLPEndpoint,
		EnablePrometheus: c.MetricsPrometheus,
	})
	if err != nil {
		return fmt.Errorf("initialising metrics: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(flushCtx); err != nil {
			logger.Warn("flushing metrics failed", "error", err)
		}
	}()

	store, backendName, closeStore, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	signer, err := signing.LoadSigner(c.PrivateKeyBase64, c.PrivateKeyFile)
	if err != nil {
		return fmt.Errorf("loading signing key: %w", err)
	}

	adminToken := c.AdminToken
	if c.CredentialsFile != "" {
		resolver := credentials.NewResolver(
			credentials.WithLogger(logger),
			credentials.WithBackend(store),
			opprovider.WithOnePassword(c.OPBinary),
		)
		creds, err := resolver.ResolveFile(ctx, c.CredentialsFile)
		if err != nil {
			return err
		}
		if adminToken == "" {
			adminToken = creds.AdminToken
		}
		if signer == nil {
			if signer, err = creds.Signer(); err != nil {
				return err
			}
		}
	}

	srv, err := server.New(server.Config{
		Address:         c.Address,
		H2C:             c.H2C,
		StoragePath:     c.StoragePath,
		Backend:         store,
		BackendName:     backendName,
		DBPath:          c.dbPath(),
		Hostname:        strings.TrimRight(c.Hostname, "/"),
		Signer:          signer,
		ArchiveCacheTTL: c.ArchiveCacheTTL,
		AdminToken:      adminToken,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("server started",
		"address", srv.Address(),
		"manifest_url", c.Hostname+"/api/manifest",
		"storage", backendName,
	)

	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		_ = srv.Close()
		return err
	}
}

type releaseCmd struct {
	Register releaseRegisterCmd `cmd:"" help:"Record a published archive as a release so its downloads are tracked."`
}

type releaseRegisterCmd struct {
	storageFlags `embed:""`

	RuntimeVersion string `help:"Runtime version the archive was published under." required:""`
	Timestamp      string `help:"Timestamp name of the archive, e.g. 1700000000." required:""`
	CommitHash     string `help:"Commit the archive was built from."`
	CommitMessage  string `help:"Message of the commit the archive was built from."`
}

// Run reads the archive to confirm it exists and derive its update id. The
// database is locked by a running server, so stop it first.
func (c *releaseRegisterCmd) Run(logger *slog.Logger) error {
	ctx := context.Background()

	if err := update.ValidateRuntimeVersion(c.RuntimeVersion); err != nil {
		return err
	}
	if err := update.ValidateTimestamp(c.Timestamp); err != nil {
		return err
	}

	store, _, closeStore, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	key := update.BundleDir(c.RuntimeVersion) + "/" + c.Timestamp + archive.Extension
	data, err := backend.ReadAll(ctx, store, key)
	if err != nil {
		return fmt.Errorf("reading archive %s: %w", key, err)
	}
	arc, err := archive.Decode(data)
	if err != nil {
		return err
	}
	_, raw, err := update.ReadMetadata(arc)
	if err != nil {
		return err
	}

	db := metadb.NewBoltDB(metadb.WithLogger(logger))
	if err := db.Open(c.dbPath()); err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	release := &metadb.Release{
		RuntimeVersion: c.RuntimeVersion,
		Path:           key,
		CommitHash:     c.CommitHash,
		CommitMessage:  c.CommitMessage,
		UpdateID:       updateserver.UpdateIDFor(raw),
	}
	if err := db.CreateRelease(ctx, release); err != nil {
		return err
	}

	logger.Info("release registered",
		"id", release.ID,
		"path", release.Path,
		"update_id", release.UpdateID,
	)
	fmt.Println(release.ID)
	return nil
}

type cli struct {
	globals `embed:""`

	Serve   serveCmd         `cmd:"" default:"withargs" help:"Run the update server."`
	Release releaseCmd       `cmd:"" help:"Manage releases."`
	Version kong.VersionFlag `help:"Print version and exit."`
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("update-server"),
		kong.Description("Over-the-air update server for Expo clients."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	logger, err := newLogger(c.LogLevel, c.LogFormat)
	kctx.FatalIfErrorf(err)

	kctx.Bind(logger)
	kctx.FatalIfErrorf(kctx.Run())
}

func newLogger(levelName, format string) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return nil, fmt.Errorf("invalid log level: %s", levelName)
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	default:
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	}
	return slog.New(handler), nil
}

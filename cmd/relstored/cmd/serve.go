// Copyright © 2018 One Concern

package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/go-chi/chi/v5"
	"github.com/oneconcern/relstore/pkg/dlogger"
	"github.com/oneconcern/relstore/pkg/filestore"
	"github.com/oneconcern/relstore/pkg/keyfs"
	"github.com/oneconcern/relstore/pkg/replica"
	"github.com/oneconcern/relstore/pkg/storage"
	"github.com/oneconcern/relstore/pkg/storage/localfs"
	"github.com/oneconcern/relstore/pkg/storage/sthree"
	"github.com/oneconcern/relstore/pkg/web"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const shutdownGracePeriod = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a primary or replica node",
	Long: `Serve release files over HTTP.

A primary accepts uploads, fetches mirrored files from their origin and publishes its changelog.
A replica follows the changelog of its primary and forwards requests for missing content.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := config.validate(); err != nil {
			wrapFatalln("invalid configuration", err)
			return
		}
		logger, err := dlogger.GetLogger(config.LogLevel)
		if err != nil {
			wrapFatalln("failed to set log level", err)
			return
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := serve(ctx, config, logger, prometheus.DefaultRegisterer); err != nil {
			wrapFatalln("server error", err)
		}
	},
}

// node holds the components of a running server
type node struct {
	kfs     *keyfs.KeyFS
	files   *filestore.FileStore
	handler http.Handler
	puller  *replica.Puller
}

func newNode(cfg *Config, logger *zap.Logger, reg prometheus.Registerer) (*node, error) {
	blobs, err := openBlobs(cfg, logger)
	if err != nil {
		return nil, err
	}

	kfs, err := keyfs.New(
		keyfs.Dir(cfg.BaseDir),
		keyfs.Blobs(blobs),
		keyfs.Logger(logger),
	)
	if err != nil {
		return nil, err
	}

	opts := []filestore.Option{
		filestore.Logger(logger),
		filestore.MirrorIndex(cfg.MirrorUser, cfg.MirrorIndex),
		filestore.Registerer(reg),
		filestore.FetchRate(rate.Limit(cfg.FetchRate), cfg.FetchBurst),
		filestore.DownloadTimeout(cfg.FetchTimeout),
	}
	if cfg.IsReplica() {
		opts = append(opts, filestore.AsReplica(cfg.PrimaryURL, kfs.Notifier()))
	}
	files, err := filestore.New(opts...)
	if err != nil {
		_ = kfs.Close()
		return nil, err
	}

	maxUpload, _ := cfg.UploadLimit()
	srv := web.NewServer(kfs, files,
		web.Logger(logger),
		web.MaxUploadSize(maxUpload),
		web.FetchTimeout(cfg.FetchTimeout),
	)

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", healthzEndpoint)
	r.Mount("/", web.InitRouter(srv))

	n := &node{kfs: kfs, files: files, handler: r}
	if cfg.IsReplica() {
		n.puller = replica.NewPuller(cfg.PrimaryURL, kfs, replica.NewImporter(kfs, files, logger),
			replica.Logger(logger),
			replica.PollInterval(cfg.ChangelogPoll),
		)
	}
	return n, nil
}

func serve(ctx context.Context, cfg *Config, logger *zap.Logger, reg prometheus.Registerer) error {
	n, err := newNode(cfg, logger, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := n.kfs.Close(); err != nil {
			logger.Warn("closing keyfs", zap.Error(err))
		}
	}()

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           n.handler,
		ReadHeaderTimeout: 30 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serving", zap.String("listen", cfg.Listen), zap.String("role", string(n.files.Role())))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		logger.Info("shutting down")
		return server.Shutdown(sctx)
	})
	if n.puller != nil {
		g.Go(func() error {
			if err := n.puller.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func openBlobs(cfg *Config, logger *zap.Logger) (storage.Store, error) {
	var (
		blobs storage.Store
		err   error
	)
	switch cfg.BlobBackend {
	case backendS3:
		awsConfig := aws.NewConfig()
		if cfg.S3Region != "" {
			awsConfig = awsConfig.WithRegion(cfg.S3Region)
		}
		if cfg.S3Endpoint != "" {
			awsConfig = awsConfig.WithEndpoint(cfg.S3Endpoint).WithS3ForcePathStyle(true)
		}
		blobs, err = sthree.New(sthree.Bucket(cfg.S3Bucket), sthree.Prefix(cfg.S3Prefix), sthree.AWSConfig(awsConfig))
		if err != nil {
			return nil, err
		}
	default:
		dir := filepath.Join(cfg.BaseDir, "files")
		if err = os.MkdirAll(dir, 0700); err != nil {
			return nil, err
		}
		blobs = localfs.New(afero.NewBasePathFs(afero.NewOsFs(), dir))
	}
	return storage.Instrument(opentracing.GlobalTracer(), logger, blobs), nil
}

func healthzEndpoint(rw http.ResponseWriter, r *http.Request) {
	_, _ = rw.Write([]byte("OK"))
}

func init() {
	flags := serveCmd.Flags()
	flags.String(flagBaseDir, ".relstore", "base directory for the key store and local file contents")
	flags.String(flagListen, ":3141", "address to listen on")
	flags.String(flagRole, string(filestore.Primary), "role of this node: primary or replica")
	flags.String(flagPrimaryURL, "", "URL of the primary, required for a replica")
	flags.String(flagBlobBackend, backendLocalFS, "where file contents are stored: localfs or s3")
	flags.String(flagS3Bucket, "", "S3 bucket for file contents")
	flags.String(flagS3Prefix, "", "key prefix within the S3 bucket")
	flags.String(flagS3Region, "", "S3 region")
	flags.String(flagS3Endpoint, "", "S3 endpoint, for S3 compatible services")
	flags.String(flagMaxUpload, "512MiB", "maximum size of an uploaded file")
	flags.Duration(flagChangelogPoll, 2*time.Second, "interval between changelog polls on a replica")
	flags.Duration(flagFetchTimeout, 5*time.Minute, "maximum time spent fetching missing content for a request")
	flags.Float64(flagFetchRate, 0, "maximum downloads per second from remote origins, 0 for no limit")
	flags.Int(flagFetchBurst, 1, "downloads allowed in a burst above the fetch rate")
	flags.String(flagMirrorUser, filestore.DefaultMirrorUser, "user owning mirrored files")
	flags.String(flagMirrorIndex, filestore.DefaultMirrorIndex, "index holding mirrored files")
	for _, name := range []string{
		flagBaseDir, flagListen, flagRole, flagPrimaryURL, flagBlobBackend,
		flagS3Bucket, flagS3Prefix, flagS3Region, flagS3Endpoint,
		flagMaxUpload, flagChangelogPoll, flagFetchTimeout, flagFetchRate, flagFetchBurst,
		flagMirrorUser, flagMirrorIndex,
	} {
		mustBind(flags.Lookup(name))
	}

	rootCmd.AddCommand(serveCmd)
}

// copick-server serves a copick project over HTTP: reads resolve against a
// writable overlay shadowed over a read-only base dataset, writes only ever
// land in the overlay.
package main

import (
	"context"
	"flag"
	"net/http"
	"strconv"
	"strings"

	gstorage "cloud.google.com/go/storage"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/copick/copick-server-go/go/api"
	"github.com/copick/copick-server-go/go/config"
	"github.com/copick/copick-server-go/go/project"
)

// flags
var (
	host        = flag.String("host", "127.0.0.1", "HTTP service host")
	port        = flag.String("port", ":8000", "HTTP service port (e.g., ':8000')")
	promPort    = flag.String("prom_port", ":20000", "Metrics service address (e.g., ':20000')")
	configFile  = flag.String("config", "", "Path to the project configuration file.")
	datasetIDs  = flag.String("dataset_ids", "", "Comma-separated portal dataset IDs to serve. Mutually exclusive with --config.")
	overlayRoot = flag.String("overlay_root", "/tmp/overlay_root", "Default root directory for overlay storage.")
	corsOrigin  = flag.String("cors", "", "Origin to allow CORS. Use wildcard '*' to allow all. No CORS headers are emitted when unset.")
)

// loadConfig builds the server configuration from either --config or
// --dataset_ids, exactly one of which must be provided.
func loadConfig() (config.Config, error) {
	if *configFile != "" && *datasetIDs != "" {
		return config.Config{}, errors.New("either --config or --dataset_ids must be provided, not both")
	}
	if *configFile != "" {
		return config.LoadFile(*configFile)
	}
	if *datasetIDs != "" {
		var ids []int
		for _, s := range strings.Split(*datasetIDs, ",") {
			id, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil {
				return config.Config{}, errors.Wrapf(err, "invalid dataset ID %q", s)
			}
			ids = append(ids, id)
		}
		return config.FromDatasetIDs(ids, *overlayRoot)
	}
	return config.Config{}, errors.New("either --config or --dataset_ids must be provided")
}

// needsGCS reports whether any project uses a GCS base.
func needsGCS(cfg config.Config) bool {
	for _, p := range cfg.Projects {
		if p.Base.Kind == config.KindGCS {
			return true
		}
	}
	return false
}

func main() {
	flag.Parse()
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %s", err)
	}

	var gcsClient *gstorage.Client
	if needsGCS(cfg) {
		gcsClient, err = gstorage.NewClient(ctx)
		if err != nil {
			logrus.Fatalf("Failed to create GCS client: %s", err)
		}
	}

	router, err := project.NewRouter(ctx, cfg, gcsClient)
	if err != nil {
		logrus.Fatalf("Failed to build project router: %s", err)
	}
	logrus.Infof("Serving projects: %s", strings.Join(router.Names(), ", "))

	r := chi.NewRouter()
	api.New(router).AddHandlers(r)

	var h http.Handler = r
	if *corsOrigin != "" {
		h = cors.New(cors.Options{
			AllowedOrigins: []string{*corsOrigin},
			AllowedMethods: []string{"GET", "HEAD", "PUT", "DELETE"},
			AllowedHeaders: []string{"*"},
		}).Handler(h)
	}

	go func() {
		promRouter := chi.NewRouter()
		promRouter.Handle("/metrics", promhttp.Handler())
		logrus.Fatal(http.ListenAndServe(*promPort, promRouter))
	}()

	addr := *host + *port
	logrus.Infof("Ready to serve on http://%s", addr)
	logrus.Fatal(http.ListenAndServe(addr, h))
}

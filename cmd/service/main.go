package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/terrama2/services/pkg/auditlog"
	"github.com/terrama2/services/pkg/control"
	"github.com/terrama2/services/pkg/executor"
	"github.com/terrama2/services/pkg/exitcode"
	"github.com/terrama2/services/pkg/instance"
	"github.com/terrama2/services/pkg/log"
	"github.com/terrama2/services/pkg/registry"
	"github.com/terrama2/services/pkg/service"
	"github.com/terrama2/services/pkg/utils"
	"golang.org/x/sync/errgroup"
)

var (
	version = "dev"
	config  *Config
)

const shutdownTimeout = 30 * time.Second

var rootCmd = &cobra.Command{
	Use:           "terrama2-service <listening-port>",
	Short:         "TerraMA2 worker service",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		viper.SetEnvPrefix("terrama2")
		viper.AutomaticEnv()

		viper.SetConfigName("service.yaml")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("/etc/terrama2/")
		viper.AddConfigPath("$HOME/.config/terrama2")
		viper.AddConfigPath(".")

		viper.ReadInConfig()

		config = &Config{}
		if err := utils.UnmarshalConfig(viper.GetViper(), config); err != nil {
			return exitcode.New(exitcode.ServiceParametersError, err)
		}
		config.SetDefaults()

		if err := config.Validate(); err != nil {
			return exitcode.New(exitcode.ServiceParametersError, err)
		}

		log.SetLevel(log.LogLevel(config.LogFile.Level))

		verbosity, err := cmd.Flags().GetCount("verbose")
		if err != nil {
			return exitcode.New(exitcode.ServiceParametersError, err)
		}

		switch {
		case verbosity >= 2:
			log.SetLevel(log.TraceLevel)
		case verbosity >= 1:
			log.SetLevel(log.DebugLevel)
		}

		config.Log()
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := utils.ParsePort(args[0])
		if err != nil {
			return exitcode.New(exitcode.ServiceParametersError, err)
		}
		return run(port)
	},
}

func run(port int) error {
	closeLog := log.Configure(config.LogFile.FileOptions())
	defer closeLog()

	if config.DisableTHP {
		utils.DisableTHP()
	}
	utils.InstallStackDumper()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kind := registry.Kind(config.Kind)

	host := instance.NewHost()
	if err := host.AddLabels(config.Labels); err != nil {
		return exitcode.New(exitcode.ServiceParametersError, err)
	}

	shutdownTracing, err := setupTracing(ctx, config)
	if err != nil {
		return exitcode.New(exitcode.InitializationError, fmt.Errorf("tracing: %w", err))
	}

	target, err := auditlog.Open(config.Audit.Uri)
	if err != nil {
		return exitcode.New(exitcode.InitializationError, fmt.Errorf("audit log: %w", err))
	}
	logger := auditlog.New(target, config.Audit.Table)

	reg := registry.New()
	if config.RegistryFile != "" {
		if err := reg.Load(afero.NewOsFs(), config.RegistryFile); err != nil {
			target.Close()
			return exitcode.New(exitcode.ServiceLoadError, err)
		}
		log.Infof("Loaded %d entities from %s", reg.Len(), config.RegistryFile)
	}

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc := service.New(service.Options{
		Kind:       kind,
		Registry:   reg,
		Executor:   executor.NewCommand(),
		Logger:     logger,
		TickPeriod: config.TickPeriod,
		Metrics:    metrics,
	})

	inst := instance.New(instance.Options{
		Id:      int64(config.InstanceId),
		Name:    config.InstanceName,
		Kind:    kind,
		Version: version,
		Host:    host,
	}, reg, svc, logger)

	server := control.NewServer(inst, config.Protocol.Options())
	if err := server.Listen(":" + strconv.Itoa(port)); err != nil {
		target.Close()
		return exitcode.New(exitcode.TcpServerError, err)
	}

	var httpServers []*httpServer
	for _, uri := range config.ListenHttp {
		s, err := newHttpServer(uri, inst, metrics)
		if err != nil {
			server.Close()
			target.Close()
			return exitcode.New(exitcode.TcpServerError, err)
		}
		httpServers = append(httpServers, s)
	}

	var health *healthServer
	var grpcListeners []net.Listener
	if len(config.ListenGrpc) > 0 {
		health = newHealthServer("terrama2." + config.Kind)
	}
	for _, uri := range config.ListenGrpc {
		socket, err := health.listen(uri)
		if err != nil {
			server.Close()
			target.Close()
			return exitcode.New(exitcode.TcpServerError, err)
		}
		grpcListeners = append(grpcListeners, socket)
	}

	var notifier *control.Notifier
	if config.NotifyAddress != "" {
		notifier = control.NewNotifier(config.NotifyAddress, int64(config.InstanceId), kind)
		notifier.Start()
		svc.AddObserver(notifier)
	}

	if err := svc.Start(config.Workers); err != nil {
		return exitcode.New(exitcode.InitializationError, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Serve)

	for _, s := range httpServers {
		g.Go(s.serve)
	}

	for _, socket := range grpcListeners {
		g.Go(func() error { return health.server.Serve(socket) })
	}

	// Shutdown on STOP_SERVICE, a signal or a failed server
	var finalizeErr error
	g.Go(func() error {
		select {
		case <-inst.Done():
		case <-gctx.Done():
			log.Info("Shutting down")
			inst.Shutdown()
		}

		if health != nil {
			health.stop()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		errs := []error{server.Close()}
		for _, s := range httpServers {
			errs = append(errs, s.shutdown(shutdownCtx))
		}
		if notifier != nil {
			notifier.Close()
		}
		errs = append(errs, target.Close(), shutdownTracing(shutdownCtx))
		finalizeErr = errors.Join(errs...)
		return nil
	})

	if err := g.Wait(); err != nil {
		return exitcode.New(exitcode.TcpServerError, err)
	}

	if finalizeErr != nil {
		return exitcode.New(exitcode.FinalizationError, finalizeErr)
	}

	log.Info("Service stopped")
	return nil
}

func init() {
	rootCmd.Flags().StringP("kind", "k", "", "Process kind (collector, analysis, alert, view, interpolator)")
	rootCmd.Flags().IntP("instance-id", "i", 0, "Instance identifier")
	rootCmd.Flags().IntP("workers", "j", 0, "Number of worker routines, 0 for one per CPU")
	rootCmd.Flags().StringP("registry-file", "r", "", "YAML file with the initial entities")
	rootCmd.Flags().StringP("audit-uri", "a", "", "Audit log URI")
	rootCmd.Flags().StringP("notify-address", "n", "", "Controller address for run notifications")
	rootCmd.Flags().StringSliceP("listen-http", "l", []string{}, "Addresses to listen on for HTTP connections")
	rootCmd.Flags().StringSliceP("listen-grpc", "g", []string{}, "Addresses to listen on for gRPC health checks")
	rootCmd.Flags().StringSlice("label", []string{}, "Host label key=value (repeatable)")
	rootCmd.Flags().CountP("verbose", "v", "Verbosity (repeatable)")

	viper.BindPFlag("kind", rootCmd.Flags().Lookup("kind"))
	viper.BindPFlag("instance_id", rootCmd.Flags().Lookup("instance-id"))
	viper.BindPFlag("workers", rootCmd.Flags().Lookup("workers"))
	viper.BindPFlag("registry_file", rootCmd.Flags().Lookup("registry-file"))
	viper.BindPFlag("audit.uri", rootCmd.Flags().Lookup("audit-uri"))
	viper.BindPFlag("notify_address", rootCmd.Flags().Lookup("notify-address"))
	viper.BindPFlag("listen_http", rootCmd.Flags().Lookup("listen-http"))
	viper.BindPFlag("listen_grpc", rootCmd.Flags().Lookup("listen-grpc"))
	viper.BindPFlag("labels", rootCmd.Flags().Lookup("label"))
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		os.Exit(exitcode.Success)
	}

	fmt.Fprintln(os.Stderr, err)

	var exit *exitcode.Error
	if errors.As(err, &exit) {
		log.Errorf("Exiting with %s: %v", exitcode.Name(exit.Code), exit.Err)
		os.Exit(exit.Code)
	}
	os.Exit(exitcode.ServiceParametersError)
}

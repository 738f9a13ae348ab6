package serve

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/rawnet/cmd/util"
	"github.com/ValentinKolb/rawnet/lib/frame"
	"github.com/ValentinKolb/rawnet/transport"
	"github.com/ValentinKolb/rawnet/transport/common"
	"github.com/ValentinKolb/rawnet/transport/dispatch"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

var Logger = logger.GetLogger("cli")

// Packet types served in dispatch mode
const (
	PacketTypeEcho uint16 = 1
	PacketTypePing uint16 = 2
	PacketTypePong uint16 = 3
)

var (
	serveConfig common.Config
	ServeCmd    = &cobra.Command{
		Use:     "serve",
		Short:   "Start a rawnet echo reader",
		Long:    `Start a rawnet reader that answers every request until SIGINT or SIGTERM is received, then shuts down gracefully. The configuration can be set via command line flags or environment variables. The format of the environment variables is RAWNET_<flag> (e.g. RAWNET_PACKET_SIZE=512)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	util.SetupTransportFlags(ServeCmd, "0.0.0.0:9000")

	key := "mode"
	ServeCmd.PersistentFlags().String(key, "echo", util.WrapString("How requests are answered: echo returns the request unchanged, dispatch decodes typed packets (1=echo, 2=ping)"))

	key = "metrics"
	ServeCmd.PersistentFlags().String(key, "", util.WrapString("Optional address for a Prometheus metrics endpoint (e.g. localhost:9100)"))
}

// processConfig reads the configuration from the command line flags and environment variables
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	conf, err := util.GetConfig()
	if err != nil {
		return err
	}
	serveConfig = conf
	return nil
}

// run starts the reader and blocks until a termination signal arrives
func run(_ *cobra.Command, _ []string) error {
	var registry *dispatch.Registry

	var handler transport.RequestHandler
	switch mode := viper.GetString("mode"); mode {
	case "echo":
		handler = Echo
	case "dispatch":
		registry = NewRegistry()
		handler = registry.Handler()
	default:
		return fmt.Errorf("%w: invalid mode %q (expected echo or dispatch)", common.ErrInvalidConfig, mode)
	}

	reader, err := util.NewReader(serveConfig, handler)
	if err != nil {
		return err
	}
	if err := reader.Bind(serveConfig.Endpoint); err != nil {
		_ = reader.Close()
		return err
	}
	if err := reader.Start(serveConfig.Concurrency); err != nil {
		_ = reader.Close()
		return err
	}

	Logger.Infof("Serving %s on %s %s", viper.GetString("mode"), serveConfig.Network, reader.LocalAddr())
	Logger.Debugf("Configuration: %s", serveConfig.String())

	var metricsServer *http.Server
	if addr := viper.GetString("metrics"); addr != "" {
		metricsServer = startMetrics(addr, reader, registry)
	}

	// wait for termination
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	signal.Stop(sig)

	Logger.Infof("Received %s, shutting down", s)

	if metricsServer != nil {
		_ = metricsServer.Close()
	}
	if err := reader.Close(); err != nil {
		return fmt.Errorf("failed to close reader: %w", err)
	}

	Logger.Infof("Shutdown complete")
	return nil
}

// --------------------------------------------------------------------------
// Handlers
// --------------------------------------------------------------------------

// Echo answers every request with the request itself
func Echo(_ net.Addr, request []byte, response []byte) (int, bool) {
	return copy(response, request), true
}

// NewRegistry creates the packet registry used in dispatch mode
func NewRegistry() *dispatch.Registry {
	r := dispatch.NewRegistry()

	_ = r.Register(PacketTypeEcho, func(_ net.Addr, header frame.PacketHeader, data []byte, w dispatch.ResponseWriter) error {
		return w.Write(header.Type, data)
	})
	_ = r.Register(PacketTypePing, func(_ net.Addr, _ frame.PacketHeader, data []byte, w dispatch.ResponseWriter) error {
		return w.Write(PacketTypePong, data)
	})

	return r
}

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

// startMetrics serves the reader, registry and process metrics in Prometheus format
func startMetrics(addr string, reader util.Reader, registry *dispatch.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		reader.WritePrometheus(w)
		if registry != nil {
			registry.WritePrometheus(w)
		}
		metrics.WriteProcessMetrics(w)
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("Metrics endpoint failed: %v", err)
		}
	}()

	Logger.Infof("Metrics available at http://%s/metrics", addr)
	return srv
}

package util

import (
	"fmt"
	"github.com/ValentinKolb/rawnet/transport/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strings"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupTransportFlags adds the flags shared by all commands that open a socket
func SetupTransportFlags(cmd *cobra.Command, defaultEndpoint string) {
	def := common.DefaultConfig("udp")

	key := "network"
	cmd.PersistentFlags().String(key, "udp", WrapString("The network to use (udp, udp4, udp6, tcp, tcp4, tcp6, unix)"))

	key = "endpoint"
	cmd.PersistentFlags().String(key, defaultEndpoint, WrapString("The local address for serve, the remote address for send and perf (e.g. localhost:9000, /tmp/rawnet.sock)"))

	key = "packet-size"
	cmd.PersistentFlags().Int(key, def.PacketSize, WrapString("The datagram size or the maximum (variable framing) / exact (fixed framing) frame payload in bytes"))

	key = "framing"
	cmd.PersistentFlags().String(key, string(def.Framing), WrapString("The stream framing (fixed, variable), ignored for udp"))

	key = "concurrency"
	cmd.PersistentFlags().Uint16(key, def.Concurrency, WrapString("Number of parallel receive or accept loops"))

	key = "backlog"
	cmd.PersistentFlags().Int(key, 0, WrapString("The listen backlog for stream readers (0 selects the OS maximum)"))

	key = "timeout"
	cmd.PersistentFlags().Int(key, 5, WrapString("The read / write timeout in seconds (0 disables timeouts)"))

	key = "pool-bucket-size"
	cmd.PersistentFlags().Int(key, def.Pool.BucketSize/1024, WrapString("The largest pooled buffer size (in KB)"))

	key = "pool-buffers-per-bucket"
	cmd.PersistentFlags().Int(key, def.Pool.BuffersPerBucket, WrapString("Number of idle buffers kept per size class"))

	key = "pool-preallocated-states"
	cmd.PersistentFlags().Int(key, def.Pool.PreallocatedStates, WrapString("Number of operation state objects created up front"))

	key = "pool-max-retained-states"
	cmd.PersistentFlags().Int(key, def.Pool.MaxRetainedStates, WrapString("Number of idle operation state objects kept"))

	key = "socket-write-buffer"
	cmd.PersistentFlags().Int(key, 0, WrapString("The size of the socket send buffer (in KB, 0 keeps the OS default)"))

	key = "socket-read-buffer"
	cmd.PersistentFlags().Int(key, 0, WrapString("The size of the socket receive buffer (in KB, 0 keeps the OS default)"))

	key = "socket-reuse-addr"
	cmd.PersistentFlags().Bool(key, def.Socket.ReuseAddr, WrapString("Whether to set SO_REUSEADDR on the socket"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, def.TCP.TCPNoDelay, WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval (in seconds, only for tcp)"))

	key = "tcp-linger"
	cmd.PersistentFlags().Int(key, def.TCP.TCPLingerSec, WrapString("The linger time (in seconds, only for tcp, negative keeps the OS default)"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("rawnet")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetConfig reads the transport configuration from viper and validates it
func GetConfig() (common.Config, error) {
	network := viper.GetString("network")
	conf := common.DefaultConfig(network)

	conf.Endpoint = viper.GetString("endpoint")
	conf.PacketSize = viper.GetInt("packet-size")
	conf.Framing = common.FramingMode(strings.ToLower(viper.GetString("framing")))
	conf.Concurrency = uint16(viper.GetUint("concurrency"))
	conf.Backlog = viper.GetInt("backlog")
	conf.TimeoutSecond = viper.GetInt("timeout")
	conf.LogLevel = viper.GetString("log-level")

	conf.Pool = common.PoolConf{
		BucketSize:         viper.GetInt("pool-bucket-size") * 1024,
		BuffersPerBucket:   viper.GetInt("pool-buffers-per-bucket"),
		PreallocatedStates: viper.GetInt("pool-preallocated-states"),
		MaxRetainedStates:  viper.GetInt("pool-max-retained-states"),
	}
	conf.Socket = common.SocketConf{
		WriteBufferSize: viper.GetInt("socket-write-buffer") * 1024,
		ReadBufferSize:  viper.GetInt("socket-read-buffer") * 1024,
		ReuseAddr:       viper.GetBool("socket-reuse-addr"),
	}
	conf.TCP = common.TCPConf{
		TCPNoDelay:      viper.GetBool("tcp-nodelay"),
		TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
		TCPLingerSec:    viper.GetInt("tcp-linger"),
	}

	if conf.Endpoint == "" {
		return conf, fmt.Errorf("%w: endpoint is required", common.ErrInvalidConfig)
	}
	if err := conf.Validate(); err != nil {
		return conf, err
	}
	return conf, nil
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

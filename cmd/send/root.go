package send

import (
	"fmt"
	"github.com/ValentinKolb/rawnet/cmd/util"
	"github.com/ValentinKolb/rawnet/transport/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strings"
	"time"
)

var (
	sendConfig common.Config
	SendCmd    = &cobra.Command{
		Use:   "send <payload>",
		Short: "Send one request and print the response",
		Long: `Send one request to a rawnet reader with the writer matching --network and print the response.
With --type the payload is sent as a typed packet (see serve --mode dispatch) and the response is decoded.`,
		Args:    cobra.MinimumNArgs(1),
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	util.SetupTransportFlags(SendCmd, "localhost:9000")

	key := "type"
	SendCmd.PersistentFlags().Uint16(key, 0, util.WrapString("Send the payload as a typed packet with this type (0 sends the raw payload)"))

	key = "count"
	SendCmd.PersistentFlags().Int(key, 1, util.WrapString("How many times to send the payload"))
}

func processConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	conf, err := util.GetConfig()
	if err != nil {
		return err
	}
	sendConfig = conf
	return nil
}

func run(_ *cobra.Command, args []string) error {
	payload := []byte(strings.Join(args, " "))

	packetType := uint16(viper.GetUint("type"))
	request := payload
	if packetType != 0 {
		var err error
		if request, err = util.EncodePacket(packetType, payload); err != nil {
			return err
		}
	}

	client, err := util.NewClient(sendConfig)
	if err != nil {
		return err
	}
	defer client.Close()

	response := make([]byte, max(sendConfig.PacketSize, len(request)))
	for i := 0; i < max(viper.GetInt("count"), 1); i++ {
		start := time.Now()
		n, err := client.Roundtrip(request, response)
		if err != nil {
			return fmt.Errorf("request %d failed: %w", i+1, err)
		}
		elapsed := time.Since(start)

		if packetType == 0 {
			fmt.Printf("%d bytes in %s: %s\n", n, elapsed, printable(response[:n]))
			continue
		}

		header, data, err := util.DecodePacket(response[:n])
		if err != nil {
			return fmt.Errorf("invalid response: %w", err)
		}
		fmt.Printf("type %d, %d bytes in %s: %s\n", header.Type, header.DataLength, elapsed, printable(data))
	}

	return nil
}

// printable returns data as text, non printable bytes are hex escaped
func printable(data []byte) string {
	var sb strings.Builder
	for _, b := range data {
		if b >= 0x20 && b < 0x7f {
			sb.WriteByte(b)
		} else {
			fmt.Fprintf(&sb, "\\x%02x", b)
		}
	}
	return sb.String()
}

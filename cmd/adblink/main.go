// Command adblink speaks the ADB wire protocol to a device directly, without
// going through an adb server: it connects over TCP or USB, authenticates
// with the host RSA key and runs shell destinations over logical streams.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/droidwire/adblink/internal/auth"
	"github.com/droidwire/adblink/internal/connection"
	"github.com/droidwire/adblink/internal/message"
	"github.com/droidwire/adblink/internal/protocol"
	"github.com/droidwire/adblink/internal/transport"
	"github.com/droidwire/adblink/internal/version"
)

var opts struct {
	verbose bool
	trace   bool

	serial  string
	banner  string
	keyPath string

	addr      string
	useUSB    bool
	usbSerial string
	vid       string
	pid       string
}

func main() {
	root := &cobra.Command{
		Use:           "adblink",
		Short:         "talk the ADB wire protocol to a device",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			switch {
			case opts.trace:
				logrus.SetLevel(logrus.TraceLevel)
			case opts.verbose:
				logrus.SetLevel(logrus.DebugLevel)
			default:
				logrus.SetLevel(logrus.WarnLevel)
			}
		},
	}

	pf := root.PersistentFlags()
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	pf.BoolVar(&opts.trace, "trace", false, "trace logging, including wire dumps")
	pf.StringVar(&opts.serial, "serial", defaultHostSerial(), "host serial sent in the connect identity")
	pf.StringVar(&opts.banner, "banner", "adblink", "host banner sent in the connect identity")
	pf.StringVar(&opts.keyPath, "key", defaultKeyPath(), "RSA private key for device authentication")
	pf.StringVar(&opts.addr, "addr", "127.0.0.1:5555", "device TCP address")
	pf.BoolVar(&opts.useUSB, "usb", false, "connect over USB instead of TCP")
	pf.StringVar(&opts.usbSerial, "usb-serial", "", "USB device serial to match (empty matches any)")
	pf.StringVar(&opts.vid, "vid", "", "USB vendor id filter, hex")
	pf.StringVar(&opts.pid, "pid", "", "USB product id filter, hex")

	root.AddCommand(connectCmd(), shellCmd(), versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "adblink: %v\n", err)
		os.Exit(1)
	}
}

func connectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "handshake with the device and print its identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flow, conn, err := dial(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Disconnect(context.Background())

			device := flow.Device()
			fmt.Printf("%s\t%s\t%s\n", device.Serial, device.SystemType, device.Banner)
			return nil
		},
	}
}

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell <command> [args...]",
		Short: "run a shell command on the device and print its output",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flow, conn, err := dial(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Disconnect(context.Background())

			destination := message.ShellDestination(strings.Join(args, " "))
			stream, err := flow.OpenStream(cmd.Context(), destination)
			if err != nil {
				return err
			}
			defer stream.Close(context.Background())

			for {
				data, err := stream.Read(cmd.Context())
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				if _, err := os.Stdout.Write(data); err != nil {
					return err
				}
			}
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("adblink %s (%s)\n", version.VERSION, version.Commit)
		},
	}
}

// dial connects the chosen transport and runs the handshake. The returned
// connection must be disconnected by the caller.
func dial(ctx context.Context) (*protocol.Flow, *connection.Connection, error) {
	t, err := buildTransport()
	if err != nil {
		return nil, nil, err
	}

	conn, err := connection.Connect(ctx, t)
	if err != nil {
		return nil, nil, err
	}

	keys, err := loadKeys()
	if err != nil {
		conn.Disconnect(context.Background())
		return nil, nil, err
	}

	flow := protocol.NewFlow(protocol.NewWire(conn), protocol.Options{
		Serial: opts.serial,
		Banner: opts.banner,
		Keys:   keys,
	})
	if err := flow.Connect(ctx); err != nil {
		conn.Disconnect(context.Background())
		return nil, nil, err
	}
	return flow, conn, nil
}

func buildTransport() (transport.Transport, error) {
	if !opts.useUSB {
		return transport.NewTCPAddr(opts.addr)
	}

	filter := transport.ADBFilter()
	filter.Serial = opts.usbSerial
	var err error
	if filter.VendorID, err = parseUSBID(opts.vid); err != nil {
		return nil, fmt.Errorf("--vid: %w", err)
	}
	if filter.ProductID, err = parseUSBID(opts.pid); err != nil {
		return nil, fmt.Errorf("--pid: %w", err)
	}
	return transport.NewUSB(filter), nil
}

func parseUSBID(s string) (uint16, error) {
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("%q is not a 16-bit hex id", s)
	}
	return uint16(id), nil
}

// loadKeys loads the signer, or returns nil when no key file exists so that
// connecting to unsecured devices still works out of the box.
func loadKeys() (protocol.KeyProvider, error) {
	signer, err := auth.LoadSigner(opts.keyPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logrus.WithField("path", opts.keyPath).Debug("no private key, proceeding unauthenticated")
			return nil, nil
		}
		return nil, err
	}
	return signer, nil
}

func defaultKeyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".android", "adbkey")
}

func defaultHostSerial() string {
	if name, err := os.Hostname(); err == nil {
		return name
	}
	return "unknown"
}

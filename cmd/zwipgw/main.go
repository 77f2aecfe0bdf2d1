// Command zwipgw runs the Z-Wave <-> IP gateway daemon: it owns the
// SHMP serial link, the S0 security layer, the Resource Directory, the
// virtual netif, and the Z/IP Bridge, wired together by the Router Loop.
// Flag handling follows the teacher's cmd/smacprint convention
// (gopkg.in/alecthomas/kingpin.v2).
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/siliconlabs/zwave-ip-gateway/internal/config"
	"github.com/siliconlabs/zwave-ip-gateway/internal/gwlog"
	"github.com/siliconlabs/zwave-ip-gateway/internal/metrics"
	"github.com/siliconlabs/zwave-ip-gateway/internal/netif"
	"github.com/siliconlabs/zwave-ip-gateway/internal/rd"
	"github.com/siliconlabs/zwave-ip-gateway/internal/router"
	"github.com/siliconlabs/zwave-ip-gateway/internal/s0"
	"github.com/siliconlabs/zwave-ip-gateway/internal/shmp"
	"github.com/siliconlabs/zwave-ip-gateway/internal/zip"
)

var (
	configPath = kingpin.Flag("config", "Path to YAML configuration file").String()
	envFile    = kingpin.Flag("env-file", "Path to a .env overrides file").String()
	device     = kingpin.Flag("device", "Path to serial port device (overrides config)").String()
	longRange  = kingpin.Flag("long-range", "Negotiate 16-bit Long Range node-ids at startup").Bool()
)

func main() {
	kingpin.Version("0.1")
	kingpin.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if *device != "" {
		cfg.SerialDevice = *device
	}

	log := gwlog.New(gwlog.Options{Level: cfg.LogLevel, Pretty: true, Writer: os.Stderr})
	met := metrics.New()

	if err := run(cfg, met, log, *longRange); err != nil {
		log.Error().Err(err).Msg("gateway exited with error")
		os.Exit(1)
	}
}

func run(cfg config.Config, met *metrics.Registry, log zerolog.Logger, longRange bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	phy, err := shmp.OpenSerial(cfg.SerialDevice, cfg.SerialBaud)
	if err != nil {
		return fmt.Errorf("opening serial device: %w", err)
	}
	defer phy.Close()

	ring := shmp.NewRing(256)
	stopPump := make(chan struct{})
	go shmp.PumpReader(phy, ring, stopPump)
	defer close(stopPump)

	framer := shmp.NewFramer(ring, phy, log)
	dispatcher := shmp.NewDispatcher(framer, phy, log, met)
	dispatcher.Start(ctx)

	caps, err := dispatcher.SendWithResponse(ctx, shmp.CmdSerialAPIGetCapabilities, nil)
	if err != nil {
		return fmt.Errorf("probing capabilities: %w", err)
	}
	if len(caps.Data) >= 8+29 {
		dispatcher.SetCapabilities(caps.Data[8:8+29], nil)
	}

	setupSupported, err := dispatcher.SendWithResponse(ctx, shmp.CmdSerialAPISetup, []byte{shmp.SetupSupported})
	if err == nil && len(setupSupported.Data) >= 2 {
		dispatcher.SetCapabilities(caps.Data[8:8+29], setupSupported.Data[1:])
	}

	if longRange {
		if err := dispatcher.EnableLongRange(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to enable Long Range")
		}
	}

	store, err := rd.OpenStore(cfg.StorePath, rd.MaxNodesClassic)
	if err != nil {
		return fmt.Errorf("opening resource directory store: %w", err)
	}
	defer store.Close()
	directory := rd.NewDirectory(store, met, log)

	networkKey, err := cfg.NetworkKey()
	if err != nil {
		return fmt.Errorf("loading network key: %w", err)
	}
	nonces := s0.NewNonceStore()

	_, pioPrefix, err := net.ParseCIDR(cfg.PIOPrefix)
	if err != nil {
		return fmt.Errorf("parsing pio_prefix: %w", err)
	}
	_, rioPrefix, err := net.ParseCIDR(cfg.RIOPrefix)
	if err != nil {
		return fmt.Errorf("parsing rio_prefix: %w", err)
	}

	virtual, err := netif.NewVirtual(pioPrefix, rioPrefix, log)
	if err != nil {
		return fmt.Errorf("creating virtual netif: %w", err)
	}

	listener, err := netif.NewListener(ctx, cfg.ListenUDPPort, log)
	if err != nil {
		return fmt.Errorf("opening UDP6 listener: %w", err)
	}
	defer listener.Close()

	unsolicitedDest, err := net.ResolveUDPAddr("udp6", cfg.UnsolicitedDest)
	if err != nil {
		return fmt.Errorf("parsing unsolicited_dest: %w", err)
	}

	bridge := zip.NewBridge(dispatcher, directory, virtual, nil, unsolicitedDest, listener.Conn(), met, log)

	transport, err := s0.NewTransport(networkKey, nonces, bridge.SendData, log, met)
	if err != nil {
		return fmt.Errorf("initializing S0 transport: %w", err)
	}
	bridge.SetTransport(transport)

	dispatcher.RegisterHandler(shmp.CmdApplicationCommandHandler, func(fr shmp.Frame) {
		if len(fr.Data) < 3 {
			return
		}
		nodeId, rest := dispatcher.ReadNodeId(fr.Data[1:])
		if len(rest) < 1 {
			return
		}
		n := int(rest[0])
		if len(rest) < 1+n {
			return
		}
		bridge.HandleApplicationCommand(nodeId, 0, rest[1:1+n])
	})

	var ra *netif.RAAdvertiser
	if ifaceName := defaultRouteInterface(); ifaceName != "" {
		ra = netif.NewRAAdvertiser(pioPrefix, rioPrefix, cfg.RAPeriod, ifaceName, log)
	}

	loop := router.New(dispatcher, nonces, directory, virtual, listener, bridge, ra, log)

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, met, log)
	}

	log.Info().Str("serial", cfg.SerialDevice).Str("store", cfg.StorePath).Msg("gateway started")
	return loop.Run(ctx)
}

func serveMetrics(addr string, met *metrics.Registry, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.WritePrometheus(w)
	})
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn().Err(err).Msg("metrics listener exited")
	}
}

// defaultRouteInterface picks the interface Router Advertisements are
// sent on: the first interface that is up, skipping lo and the zw
// pseudo-interface (see SPEC_FULL.md §E Non-goals). It does not consult
// the routing table, so the interface it returns is not necessarily the
// one carrying the host's default route.
func defaultRouteInterface() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Name == netif.InterfaceName || iface.Name == "lo" {
			continue
		}
		if iface.Flags&net.FlagUp != 0 {
			return iface.Name
		}
	}
	return ""
}

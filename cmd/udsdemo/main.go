// Command udsdemo is a thin front end over the core stack: it wires an
// SLCAN adapter to the ISO-TP transport and UDS client, opens an extended
// diagnostic session, reads one DID, and exits. It exists only to exercise
// the stack end to end; it is not part of the core (spec §1).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"udsstack/config"
	"udsstack/husklog"
	"udsstack/isotp"
	"udsstack/session"
	"udsstack/slcan"
	"udsstack/uds"
)

const (
	exitOK                = 0
	exitConnectionFailure = 1
	exitProtocolFailure   = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to an INI config file (defaults are used if omitted)")
	port := flag.String("port", "", "serial port path (overrides config/autodetect)")
	did := flag.Uint("did", 0xF190, "data identifier to read after connecting")
	flag.Parse()

	log := husklog.New("udsdemo")

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.WithError(err).Error("loading config")
			return exitConnectionFailure
		}
		cfg = loaded
	}
	if *port != "" {
		cfg.Serial.Port = *port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalChan
		log.Warn("shutdown signal received")
		cancel()
	}()

	adapter, err := slcan.Open(cfg.Serial.Port)
	if err != nil {
		log.WithError(err).Error("opening slcan adapter")
		return exitConnectionFailure
	}
	defer adapter.Close()

	if err := adapter.Open(ctx, cfg.Serial.Bitrate); err != nil {
		log.WithError(err).Error("opening can channel")
		return exitConnectionFailure
	}

	isotpCfg := isotp.Config{
		TxID:          cfg.Transport.TxID,
		RxID:          cfg.Transport.RxID,
		PadByte:       cfg.Transport.PadByte,
		BlockSize:     cfg.Transport.BlockSize,
		STmin:         cfg.Transport.STmin,
		NAs:           cfg.Transport.NAs,
		NBs:           cfg.Transport.NBs,
		NCr:           cfg.Transport.NCr,
		MaxWaitFrames: cfg.Transport.MaxWaitFrames,
	}
	transport := isotp.New(adapter, isotpCfg)

	udsCfg := uds.Config{
		P2Timeout:           cfg.Client.P2Timeout,
		P2StarTimeout:       cfg.Client.P2StarTimeout,
		MaxPendingResponses: cfg.Client.MaxPendingResponses,
	}
	client := uds.NewClient(transport, udsCfg)

	metrics := session.NewMetrics()
	client.SetObserver(metrics)

	guard, err := session.SessionGuard(ctx, client, uds.SessionExtended)
	if err != nil {
		log.WithError(err).Error("entering extended session")
		return exitProtocolFailure
	}
	defer guard.Release(ctx)

	coordinator := session.NewCoordinator(client, metrics, cfg.KeepAlive.Period)
	coordinator.Start(ctx)
	defer coordinator.Stop()

	data, err := client.ReadDataByIdentifier(ctx, uint16(*did))
	if err != nil {
		log.WithError(err).Error("reading data by identifier")
		return exitProtocolFailure
	}

	fmt.Printf("DID 0x%04X: % X\n", *did, data)
	return exitOK
}

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Dot11/cmd/simulate/config"
	"Dot11/pkg/async"
	"Dot11/pkg/capture"
	"Dot11/pkg/layers"

	"go.uber.org/zap"
)

func main() {

	cfg, err := config.LoadConfig("config.yml")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		return
	}

	logger, err := config.CreateLogger(cfg)
	if err != nil {
		fmt.Printf("Error creating logger: %v\n", err)
		return
	}
	defer logger.Sync()
	log := logger.Sugar()

	network := config.CreateNetwork(cfg)
	trace, err := config.CreateCapture(cfg)
	if err != nil {
		log.Errorf("Error creating capture: %v", err)
		return
	}
	if trace != nil {
		network.Tap = trace.Tap
	}

	stations := make(map[layers.MACAddress]*layers.LinkLayer, len(cfg.Stations))
	for _, address := range cfg.Stations {
		link := config.CreateLinkLayer(cfg, address, network.Join(), log)
		if err := link.Open(); err != nil {
			log.Errorf("Error opening station %d: %v", address, err)
			return
		}
		defer link.Close()
		stations[link.Address] = link
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, link := range stations {
		go receive(ctx, link, log)
	}

	sent := make([]<-chan int, len(cfg.Traffic))
	for i, t := range cfg.Traffic {
		sent[i] = async.Promise(func() int { return send(ctx, stations[layers.MACAddress(t.From)], t, log) })
	}

	enter := async.EnterKey()
	select {
	case counts := <-async.GatherN(sent...):
		for i, t := range cfg.Traffic {
			log.Infof("Station %d queued %d of %d messages for %d", t.From, counts[i], t.Count, t.To)
		}
		report(stations, log)
		fmt.Println("Press Enter to exit...")
		<-enter
	case <-enter:
		report(stations, log)
	}
	fmt.Println("Exiting...")

	cancel()
	if err := shutdown(stations, trace); err != nil {
		log.Errorf("Error closing capture: %v", err)
	}
	if trace != nil {
		log.Infof("Captured %d frames to %s", trace.Count(), cfg.Capture)
	}
}

// shutdown stops every station before closing the capture so that no frame
// is tapped into a closed file.
func shutdown(stations map[layers.MACAddress]*layers.LinkLayer, trace *capture.Writer) error {
	for _, link := range stations {
		link.Close()
	}
	if trace == nil {
		return nil
	}
	return trace.Close()
}

func report(stations map[layers.MACAddress]*layers.LinkLayer, log *zap.SugaredLogger) {
	for _, link := range stations {
		log.Infof("Station %d: status %v, local time %v, clock offset %v",
			link.Address, link.Status(), link.LocalTime(), link.Settings().ClockOffset)
	}
}

func receive(ctx context.Context, link *layers.LinkLayer, log *zap.SugaredLogger) {
	for {
		var t layers.Transmission
		n, err := link.Recv(ctx, &t)
		if err != nil {
			return
		}
		log.Infof("Station %d received %d bytes from %d: %q", link.Address, n, t.Source, t.Buf)
	}
}

// send queues t.Count copies of the message, waiting while the outgoing queue is full.
func send(ctx context.Context, link *layers.LinkLayer, t config.Traffic, log *zap.SugaredLogger) int {
	data := []byte(t.Message)
	queued := 0
	for queued < t.Count {
		_, err := link.Send(layers.MACAddress(t.To), data, len(data))
		switch {
		case err == nil:
			queued++
		case errors.Is(err, layers.ErrInsufficientBufferSpace):
			log.Debugf("Station %d outgoing queue full, waiting", link.Address)
		default:
			log.Warnf("Station %d send failed: %v", link.Address, err)
			return queued
		}

		select {
		case <-time.After(t.Interval):
		case <-ctx.Done():
			return queued
		}
	}
	return queued
}

/*
Copyright 2022 The Matrix.org Foundation C.I.C.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/codec"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/config"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/peer"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/profiling"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/room"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/signaling"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/telemetry"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/webrtc_ext"
	"github.com/sirupsen/logrus"
)

func main() {
	// Parse command line flags.
	var (
		configFilePath = flag.String("config", "config.yaml", "configuration file path")
		cpuProfile     = flag.String("cpuProfile", "", "write CPU profile to `file`")
		memProfile     = flag.String("memProfile", "", "write memory profile to `file`")
	)
	flag.Parse()

	// Initialize logging subsystem (formatting, global logging framework etc).
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})

	// Define functions that are called before exiting.
	// This is useful to stop the profiler if it's enabled.
	deferredFunctions := []func(){}
	if *cpuProfile != "" {
		stop, err := profiling.InitCPUProfiling(*cpuProfile)
		if err != nil {
			logrus.WithError(err).Fatal("could not start CPU profiling")
		}
		deferredFunctions = append(deferredFunctions, stop)
	}
	if *memProfile != "" {
		deferredFunctions = append(deferredFunctions, profiling.InitMemoryProfiling(*memProfile))
	}

	// Load the config file from the environment variable or path.
	config, err := config.LoadConfig(*configFilePath)
	if err != nil {
		logrus.WithError(err).Fatal("could not load config")
		return
	}

	switch config.LogLevel {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	case "fatal":
		logrus.SetLevel(logrus.FatalLevel)
	case "panic":
		logrus.SetLevel(logrus.PanicLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	if config.Telemetry.Enabled() {
		shutdownTelemetry, err := telemetry.SetupTelemetry(config.Telemetry)
		if err != nil {
			logrus.WithError(err).Fatal("could not set up telemetry")
		}
		deferredFunctions = append(deferredFunctions, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(ctx); err != nil {
				logrus.WithError(err).Error("could not flush telemetry")
			}
		})
	}

	catalog, err := config.Codec.Catalog()
	if err != nil {
		logrus.WithError(err).Fatal("invalid codec configuration")
	}
	resolver := codec.NewResolver(catalog, config.Codec.HeaderExtensions)

	connections, err := webrtc_ext.NewPeerConnectionFactory(config.WebRTC, catalog, resolver.AllowList())
	if err != nil {
		logrus.WithError(err).Fatal("could not create peer connection factory")
	}

	logger := logrus.NewEntry(logrus.StandardLogger())
	transports := peer.NewFactory(connections, logger)
	manager := room.NewManager(config.Room, resolver, transports.NewRouter, logger)
	server := signaling.NewServer(config.Signaling, manager, transports, logger)

	// Handle signal interruptions.
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		logrus.Info("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logrus.WithError(err).Error("could not shut down the signaling server")
		}
	}()

	// Blocks until the server is shut down.
	if err := server.Run(); err != nil {
		logrus.WithError(err).Error("signaling server failed")
	}

	manager.Close()
	for _, function := range deferredFunctions {
		function()
	}
}

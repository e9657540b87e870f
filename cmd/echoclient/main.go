package main

import (
	"flag"

	"echomux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var config *echomux.Config

func init() {
	configFilePath := flag.String("c", "config.toml", "path to configuration file.")
	address := flag.String("a", "", "server address override.")
	flag.Parse()
	var err error
	config, err = echomux.LoadConfig(*configFilePath)
	if err != nil {
		log.Fatal().Msgf("can't load config: %+v", err)
	}
	if *address != "" {
		config.Client.Address = *address
	}
	initLog(config)
}

func initLog(config *echomux.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(config.Global.LogLevel)
	if err != nil || config.Global.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func main() {
	client, err := echomux.NewEchoClient(config.Client)
	if err != nil {
		log.Fatal().Msgf("can't init echo client: %+v", err)
	}
	if err := client.Run(); err != nil {
		log.Fatal().Msgf("client loop failed: %+v", err)
	}
	log.Info().Msgf("sent %d bytes, received %d bytes back", client.BytesSent(), client.BytesReceived())
}

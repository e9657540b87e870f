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
	address := flag.String("a", "", "listening address override.")
	flag.Parse()
	var err error
	config, err = echomux.LoadConfig(*configFilePath)
	if err != nil {
		log.Fatal().Msgf("can't load config: %+v", err)
	}
	if *address != "" {
		config.Server.Address = *address
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
	echomux.RaiseFileLimit(4096)
	stats, err := echomux.NewStatsManager()
	if err != nil {
		log.Fatal().Msgf("can't init stats manager: %+v", err)
	}
	defer stats.Close()
	server, err := echomux.NewEchoServer(config.Server, stats)
	if err != nil {
		log.Fatal().Msgf("can't init echo server: %+v", err)
	}
	if err := server.Listen(); err != nil {
		log.Fatal().Msgf("can't listen on %s: %+v", config.Server.Address, err)
	}
	if err := server.Serve(); err != nil {
		log.Fatal().Msgf("server loop failed: %+v", err)
	}
	sent, received := stats.Totals()
	log.Info().Msgf("served %d clients, received %d bytes, echoed %d bytes", server.Served(), received, sent)
}

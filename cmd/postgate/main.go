package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/postgate/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("postgate")
		os.Exit(1)
	}
}

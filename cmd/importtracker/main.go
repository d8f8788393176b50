package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/importtracker/cmd/importtracker/cmd"
	"github.com/armadaproject/importtracker/internal/common/logging"
)

func main() {
	if err := logging.ConfigureLogging(logging.Config{}); err != nil {
		log.Fatal(err)
	}
	root := cmd.RootCmd()
	if err := root.Execute(); err != nil {
		logging.WithStacktrace(log.NewEntry(log.StandardLogger()), err).Error("import tracker exited")
		os.Exit(1)
	}
}

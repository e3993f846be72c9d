package main

import (
	"os"

	"github.com/emrgen/newsimport/internal/config"
	"github.com/emrgen/newsimport/internal/server"
	"github.com/sirupsen/logrus"
)

// runs the importer against a local sqlite file and an in-process broker
func main() {
	cnf := config.LoadConfig()
	cnf.Database.Driver = config.DriverSqlite
	cnf.Database.DSN = os.Getenv("DEBUG_DB")
	if cnf.Database.DSN == "" {
		cnf.Database.DSN = "file:newsimport.db?_busy_timeout=5000"
	}
	cnf.Database.AutoMigrate = true
	cnf.Broker.Kind = config.BrokerMemory
	logrus.SetLevel(logrus.DebugLevel)

	s, err := server.NewServer(cnf)
	if err != nil {
		logrus.Fatalf("error starting importer: %v", err)
	}
	defer s.Close()

	if err := s.Start(); err != nil {
		logrus.Errorf("importer stopped: %v", err)
	}
}

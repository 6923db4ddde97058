package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"studentrisk/internal/attendancefile"
	"studentrisk/internal/batch"
	"studentrisk/internal/config"
	"studentrisk/internal/db"
	"studentrisk/internal/logsvc"
	"studentrisk/internal/scoring"
)

var logger *log.Logger

func main() {
	logger = log.New(os.Stderr, "RISKCTL : ", log.LstdFlags|log.Lmicroseconds)

	_ = godotenv.Load()
	cfg := config.Load()
	errAndDie(cfg.Validate())

	gdb, err := db.Connect(cfg.DatabaseURL)
	errAndDie(err)
	store := db.NewStore(gdb)

	var attendance batch.AttendanceSource = store
	if cfg.AttendanceDir != "" {
		attendance = attendancefile.New(cfg.AttendanceDir)
	}

	cli := commandLine{
		store:      store,
		attendance: attendance,
		scorer:     scoring.NewScorer(cfg.Scoring()),
		logger:     logsvc.NewStdLogger(logger),
		out:        os.Stdout,
		workers:    cfg.BatchWorkers,
		timeout:    cfg.BatchTimeout,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("error: %s", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}

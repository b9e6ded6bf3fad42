package main

import (
	"context"
	"flag"
	"log"
	"time"

	"breaker-monitor/internal/config"
	"breaker-monitor/internal/db"
	"breaker-monitor/internal/output"
)

func main() {
	var cfgPath, day, code, outJSON, outCSV string
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "path to YAML config")
	flag.StringVar(&day, "date", "", "local day to export, 2006-01-02 (default today)")
	flag.StringVar(&code, "code", "", "only export this data point code")
	flag.StringVar(&outJSON, "json", "", "path to write JSON rows (optional)")
	flag.StringVar(&outCSV, "csv", "", "path to write CSV rows (optional)")
	flag.Parse()

	if outJSON == "" && outCSV == "" {
		log.Fatalf("no output specified: set --json and/or --csv")
	}

	cfg, err := config.LoadYAML(cfgPath)
	if err != nil {
		log.Fatalf("load yaml config: %v", err)
	}
	loc := cfg.Location()
	if day == "" {
		day = time.Now().In(loc).Format("2006-01-02")
	}
	from, to, err := db.DayBounds(day, loc)
	if err != nil {
		log.Fatalf("%v", err)
	}

	store, err := db.Open(cfg.Storage.DBPath, db.WithLocation(loc))
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer store.Close()

	rows, err := store.History(context.Background(), db.Query{DeviceID: cfg.Device.ID, Code: code, From: from, To: to})
	if err != nil {
		log.Fatalf("query history: %v", err)
	}
	log.Printf("exporting %d rows for %s", len(rows), day)

	if outJSON != "" {
		if err := output.WriteJSON(outJSON, rows); err != nil {
			log.Printf("write json error: %v", err)
		}
	}
	if outCSV != "" {
		if err := output.WriteCSV(outCSV, rows); err != nil {
			log.Printf("write csv error: %v", err)
		}
	}
}

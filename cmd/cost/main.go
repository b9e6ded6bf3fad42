package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"

	"breaker-monitor/internal/config"
	"breaker-monitor/internal/db"
	"breaker-monitor/internal/tariff"
)

func main() {
	var cfgPath, day string
	kwh := math.NaN()
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "path to YAML config")
	flag.Func("kwh", "price this many kWh", func(s string) error {
		_, err := fmt.Sscanf(s, "%g", &kwh)
		return err
	})
	flag.StringVar(&day, "date", "", "integrate stored output_power for this local day, 2006-01-02")
	flag.Parse()

	cfg, err := config.LoadYAML(cfgPath)
	if err != nil {
		log.Fatalf("load yaml config: %v", err)
	}
	table := cfg.Tariff.Slabs

	switch {
	case !math.IsNaN(kwh):
		printBreakdown(table, kwh, cfg.Tariff.Currency)
	case day != "":
		loc := cfg.Location()
		from, to, err := db.DayBounds(day, loc)
		if err != nil {
			log.Fatalf("%v", err)
		}
		store, err := db.Open(cfg.Storage.DBPath, db.WithLocation(loc))
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		defer store.Close()
		samples, err := store.PowerSamples(context.Background(), cfg.Device.ID, from, to)
		if err != nil {
			log.Fatalf("query power samples: %v", err)
		}
		usage := table.Integrate(samples)
		fmt.Printf("%s: %d samples, %.3f kWh\n", day, len(samples), usage.TotalKWh)
		printBreakdown(table, usage.TotalKWh, cfg.Tariff.Currency)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func printBreakdown(table tariff.Table, kwh float64, currency string) {
	for _, b := range table.Breakdown(kwh) {
		fmt.Printf("  %8.3f kWh @ %6.2f = %10.2f %s\n", b.Units, b.Slab.Rate, b.Amount, currency)
	}
	fmt.Printf("total: %.2f %s\n", table.Cost(kwh), currency)
}

package main

import (
	"flag"

	config "github.com/avvvet/allocation-rooms/configs"
	roomcfg "github.com/avvvet/allocation-rooms/internal/roomsvc/config"
	"github.com/avvvet/allocation-rooms/internal/roomsvc/db"
	log "github.com/sirupsen/logrus"
)

func main() {
	down := flag.Bool("down", false, "roll back every migration")
	flag.Parse()

	config.LoadEnv("migrate")

	cfg, err := roomcfg.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.StoreDriver != roomcfg.DriverPostgres {
		log.Fatalf("migrations apply to the postgres driver only, STORE_DRIVER is %q", cfg.StoreDriver)
	}

	if *down {
		if err := db.Down(cfg.DBUrl); err != nil {
			log.Fatal(err)
		}
		log.Info("database migrations rolled back")
		return
	}
	if err := db.Migrate(cfg.DBUrl); err != nil {
		log.Fatal(err)
	}
}

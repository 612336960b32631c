package main

import (
	"log"
	"os"

	"github.com/delelinus/orderledger/cmd/orderd/app"
	"github.com/delelinus/orderledger/configs"
)

func main() {
	env := os.Getenv("APP_ENV") // dev | staging | prod
	if env == "" {
		env = "dev"
	}

	cfg, err := configs.Load("configs", env)
	if err != nil {
		log.Fatal(err)
	}

	a, cleanup, err := app.InitWithConfig(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer cleanup()

	log.Printf("orderd (%s) listening on %s", env, cfg.App.HTTPAddr)
	if err := a.Run(cfg); err != nil {
		log.Fatal(err)
	}
}

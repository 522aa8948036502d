package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/config"
	security "github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/jwt-new"
)

// выпускает токен администратора для локальной разработки
func main() {
	var adminID, name string
	flag.StringVar(&adminID, "admin-id", "", "admin identity (jwt sub)")
	flag.StringVar(&name, "name", "", "admin display name")

	cfg := config.MustLoad()

	token, err := security.NewAdminToken(adminID, name, time.Duration(cfg.JWT.TokenTTL)*time.Minute, cfg.JWT.Secret)
	if err != nil {
		log.Fatalf("failed to issue token: %v", err)
	}
	fmt.Println(token)
}
